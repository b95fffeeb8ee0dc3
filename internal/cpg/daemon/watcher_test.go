package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInboxFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"db.json.gz", true},
		{"/inbox/peer-2024.json.gz", true},
		{"db.json", false},
		{"db.json.gz.applied", false},
		{".snapshot-123.json.gz", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInboxFile(tt.name))
		})
	}
}

func TestInboxWatcher_Events(t *testing.T) {
	dir := t.TempDir()
	iw, err := NewInboxWatcher()
	require.NoError(t, err)
	require.NoError(t, iw.Start(dir))
	defer iw.Stop()

	assert.True(t, iw.IsRunning())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "db.json.gz"), []byte("x"), 0o644))

	select {
	case ev := <-iw.Events():
		assert.Equal(t, filepath.Join(iw.Dir(), "db.json.gz"), ev.Path)
		assert.Contains(t, []EventOp{OpCreate, OpModify}, ev.Op)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for inbox event")
	}
}

func TestInboxWatcher_StartTwice(t *testing.T) {
	iw, err := NewInboxWatcher()
	require.NoError(t, err)
	require.NoError(t, iw.Start(t.TempDir()))
	defer iw.Stop()

	assert.Error(t, iw.Start(t.TempDir()))
}

func TestInboxWatcher_StopClosesChannels(t *testing.T) {
	iw, err := NewInboxWatcher()
	require.NoError(t, err)
	require.NoError(t, iw.Start(t.TempDir()))
	require.NoError(t, iw.Stop())

	assert.False(t, iw.IsRunning())
	_, ok := <-iw.Events()
	assert.False(t, ok)
	require.NoError(t, iw.Stop())
}

func TestEventOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "modify", OpModify.String())
	assert.Equal(t, "unknown", EventOp(9).String())
}
