package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{string(FlagDisableVoxelStream)})

	t.Run("is set", func(t *testing.T) {
		require.True(t, f.IsSet(FlagDisableVoxelStream))
		require.False(t, f.IsSet(FlagDisableSnapshotCompression))
	})

	t.Run("run if enabled", func(t *testing.T) {
		var runStream bool
		f.IfSet(FlagDisableVoxelStream, func() {
			runStream = true
		})
		require.True(t, runStream)

		var runCompression bool
		f.IfSet(FlagDisableSnapshotCompression, func() {
			runCompression = true
		})
		require.False(t, runCompression)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runStream bool
		f.IfNotSet(FlagDisableVoxelStream, func() {
			runStream = true
		})
		require.False(t, runStream)

		var runSignature bool
		f.IfNotSet(FlagDisableSnapshotSignature, func() {
			runSignature = true
		})
		require.True(t, runSignature)
	})
}
