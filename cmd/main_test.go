package main

import (
	"testing"
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/featureflag"
	"github.com/aukilabs/blox/models"
	"github.com/stretchr/testify/require"
)

func TestNewVoxelStreamHandler(t *testing.T) {
	conf := config{ClientIdleTimeout: time.Second}
	var maps models.MapStore

	t.Run("writable by default", func(t *testing.T) {
		h := newVoxelStreamHandler(conf, &maps, featureflag.New(nil))
		require.False(t, h.ReadOnly)
		require.Equal(t, time.Second, h.ClientIdleTimeout)
		require.Same(t, &maps, h.Maps)
	})

	t.Run("read only flag", func(t *testing.T) {
		flags := featureflag.New([]string{string(featureflag.FlagReadOnlyVoxelStream)})
		h := newVoxelStreamHandler(conf, &maps, flags)
		require.True(t, h.ReadOnly)
	})
}

func TestValidateConfig(t *testing.T) {
	conf := config{
		DefaultVoxelSize:  0.05,
		DefaultMemoryType: "unified",
	}

	memoryType, err := validateConfig(conf)
	require.NoError(t, err)
	require.Equal(t, device.MemoryTypeUnified, memoryType)

	invalid := conf
	invalid.PrivateKey = "a"
	invalid.PrivateKeyFile = "b"
	_, err = validateConfig(invalid)
	require.Error(t, err)

	invalid = conf
	invalid.DefaultVoxelSize = 0
	_, err = validateConfig(invalid)
	require.Error(t, err)

	invalid = conf
	invalid.DefaultMemoryType = "gpu"
	_, err = validateConfig(invalid)
	require.Error(t, err)
}
