package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s := Open(path, Defaults(true))
	assert.Equal(t, Defaults(true), s.Get())
}

func TestMalformedFileGivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("visible: [not a bool"), 0o600))
	s := Open(path, Defaults(false))
	assert.Equal(t, Defaults(false), s.Get())
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")
	s := Open(path, Defaults(false))

	_, err := s.Update(func(p *Preferences) {
		p.Muted = true
		p.Position = Position{X: 10, Y: 20}
	})
	require.NoError(t, err)

	reopened := Open(path, Defaults(false))
	got := reopened.Get()
	assert.True(t, got.Muted)
	assert.Equal(t, Position{X: 10, Y: 20}, got.Position)
	assert.True(t, got.Notify, "untouched fields keep their values")
}
