package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestNewWritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.log")
	l, err := New(Options{Production: true, Level: "info", File: path})
	require.NoError(t, err)

	l.Info("slot claimed")
	_ = l.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "slot claimed")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
