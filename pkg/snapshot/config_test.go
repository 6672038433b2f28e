package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tt := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "zero chunk size", mutate: func(c *Config) { c.PreferredChunkSize = 0 }, wantErr: true},
		{name: "max below preferred", mutate: func(c *Config) { c.MaxChunkSize = c.PreferredChunkSize - 1 }, wantErr: true},
		{name: "no blocks", mutate: func(c *Config) { c.SnapshotBlocks = 0 }, wantErr: true},
		{name: "restore cap below snapshot", mutate: func(c *Config) { c.MaxRestoreBlocks = c.SnapshotBlocks - 1 }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.StateWorkers = 0 }, wantErr: true},
		{name: "no cache", mutate: func(c *Config) { c.ChunkCacheSize = 0 }, wantErr: true},
		{name: "no root", mutate: func(c *Config) { c.Root = "" }, wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, NewTestConfig(t.TempDir()).Validate())
}
