package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDLifecycle(t *testing.T) {
	m := NewManager(t.TempDir())

	assert.Equal(t, 0, m.ReadPID())
	assert.False(t, m.IsRunning())

	require.NoError(t, m.WritePID())
	assert.Equal(t, os.Getpid(), m.ReadPID())
	assert.True(t, m.IsRunning(), "our own pid is alive")

	m.CleanupPID()
	assert.Equal(t, 0, m.ReadPID())
}

func TestGarbagePIDFileReadsAsAbsent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, pidFilename), []byte("notanumber"), 0600))

	assert.Equal(t, 0, m.ReadPID())
	assert.False(t, m.IsRunning())
}

func TestReferenceCount(t *testing.T) {
	m := NewManager(t.TempDir())

	// The reference file is shared in the temp dir; put back whatever was
	// there so a concurrent daemon is not confused.
	old := m.ReadRef()
	defer m.writeRef(old)

	m.writeRef(0)
	m.IncrementRef()
	m.IncrementRef()
	assert.Equal(t, 2, m.ReadRef())

	m.DecrementRef()
	assert.Equal(t, 1, m.ReadRef())

	m.DecrementRef()
	m.DecrementRef()
	assert.Equal(t, 0, m.ReadRef(), "count never goes negative")
}
