package layer

// TsdfVoxel holds a truncated signed distance to the closest surface.
type TsdfVoxel struct {
	Distance float32 `json:"distance"`
	Weight   float32 `json:"weight"`
}

type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

type ColorVoxel struct {
	Color  Color   `json:"color"`
	Weight float32 `json:"weight"`
}

// OccupancyVoxel holds the log odds of a voxel being occupied.
type OccupancyVoxel struct {
	LogOdds float32 `json:"log_odds"`
}

type (
	TsdfBlock      = VoxelBlock[TsdfVoxel]
	ColorBlock     = VoxelBlock[ColorVoxel]
	OccupancyBlock = VoxelBlock[OccupancyVoxel]

	TsdfLayer      = VoxelBlockLayer[TsdfVoxel]
	ColorLayer     = VoxelBlockLayer[ColorVoxel]
	OccupancyLayer = VoxelBlockLayer[OccupancyVoxel]
	MeshLayer      = BlockLayer[MeshBlock, *MeshBlock]
)
