package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scoped-memory-mcp/internal/config"
)

func TestHashKeyCommand(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"argument", []string{"hash-key", "s3cret"}, ""},
		{"stdin", []string{"hash-key"}, "s3cret\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCommand()
			cmd.SetArgs(tt.args)
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetOut(&out)

			require.NoError(t, cmd.Execute())
			hash := strings.TrimSpace(out.String())
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
		})
	}
}

func TestHashKeyCommand_Empty(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"hash-key"})
	cmd.SetIn(strings.NewReader("\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestLoadConfig_ModeOverride(t *testing.T) {
	t.Setenv("MCP_MEMORY_STORAGE_PROVIDER", "memory")

	cfg, err := loadConfig(serveOptions{mode: "http"})
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Mode)

	_, err = loadConfig(serveOptions{mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogging(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), `"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
