package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenix.io/internal/config"
)

func TestMissingDSN(t *testing.T) {
	t.Setenv("MAINTENIX_DATABASE_DSN", "")
	cmd := rootCmd()
	cmd.SetArgs([]string{"platform", "status"})
	err := cmd.Execute()
	require.ErrorIs(t, err, config.ErrMisconfigured)
}

func TestTenantCommandsRequireSlug(t *testing.T) {
	for _, action := range []string{"up", "down", "status", "provision"} {
		cmd := rootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"tenant", action, "--dsn", "postgres://localhost/maintenix"})
		assert.Error(t, cmd.Execute(), action)
	}
}
