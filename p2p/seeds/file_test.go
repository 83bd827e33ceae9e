package seeds

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileParsesSeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	content := "seeds:\n  - nodeId: \"deadbeef\"\n    address: \"10.0.0.1:6001\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xdeadbeef", got[0].NodeID)
	assert.Equal(t, "10.0.0.1:6001", got[0].Address)
	assert.Equal(t, "file:"+path, got[0].Source)
}

func TestLoadFileRejectsMissingAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	content := "seeds:\n  - nodeId: \"deadbeef\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
