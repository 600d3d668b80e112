package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/engine"
	"caseline/internal/sweep"
)

func TestResolveConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := ResolveConfig(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultHomeID, cfg.Home.ID)
	assert.NoError(t, cfg.Validate())
}

func TestResolveConfigReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("rosewood")), 0o644))
	cfg, err := ResolveConfig(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "rosewood", cfg.Home.ID)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("home:\n  id: \"\"\n"), 0o644))
	_, err = ResolveConfig(dir, bad)
	assert.Error(t, err)
}

func TestBuildLocker(t *testing.T) {
	cfg := config.Default("x")
	l, closer := buildLocker(cfg)
	assert.IsType(t, &sweep.LocalLocker{}, l)
	assert.Nil(t, closer)

	cfg.Sweep.Lock.RedisAddr = "127.0.0.1:6379"
	l, closer = buildLocker(cfg)
	require.IsType(t, &sweep.RedisLocker{}, l)
	assert.Equal(t, "caseline:sweep", l.(*sweep.RedisLocker).Key)
	require.NotNil(t, closer)
	assert.NoError(t, closer())
}

func TestOpenWiresSweep(t *testing.T) {
	s, err := Open(Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	_, err = s.Engine.CreateCase(ctx, engine.CaseCreateOptions{DeceasedName: "Pat Doe"})
	require.NoError(t, err)

	report, err := s.Scheduler.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cases)
	assert.Empty(t, report.Failures)
	assert.False(t, s.Notifier.Enabled())
}
