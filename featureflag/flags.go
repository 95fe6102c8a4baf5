package featureflag

type Flag string

const (
	FlagDisableSnapshotCompression Flag = "DISABLE_SNAPSHOT_COMPRESSION"
	FlagDisableSnapshotSignature   Flag = "DISABLE_SNAPSHOT_SIGNATURE"
	FlagDisableVoxelStream         Flag = "DISABLE_VOXEL_STREAM"
	FlagReadOnlyVoxelStream        Flag = "READ_ONLY_VOXEL_STREAM"
)
