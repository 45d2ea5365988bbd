package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	c := config.Default("node-a")
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadBucketSize(t *testing.T) {
	c := config.Default("node-a")
	c.DHT.BucketSize = 0
	require.Error(t, c.Validate())
}

func TestFeaturesRuntimeMutable(t *testing.T) {
	c := config.Default("node-a")
	require.True(t, c.Features().HybridDHTReplication)

	c.SetFeatures(config.Features{HybridDHTReplication: false, StorageEncryption: true})
	f := c.Features()
	require.False(t, f.HybridDHTReplication)
	require.True(t, f.StorageEncryption)
}
