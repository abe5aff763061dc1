package ouroconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
NetworkMagic: 764824073
ListenAddr: "127.0.0.1:4001"
Promotion:
  MaxHotPeers: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(764824073), cfg.NetworkMagic)
	require.Equal(t, "127.0.0.1:4001", cfg.ListenAddr)
	require.Equal(t, 10, cfg.Promotion.MaxHotPeers)
	require.Equal(t, 50, cfg.Promotion.MaxPeers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/node.yaml")
	require.Error(t, err)
}
