// ABOUTME: Tests for ticketd CLI helpers
// ABOUTME: Covers flag parsing, logger setup, and the generated starter config

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ticketd/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr string
	}{
		{"separate value", []string{"--username", "alice"}, map[string]string{"username": "alice"}, ""},
		{"equals value", []string{"--username=alice", "--authority=example.com"}, map[string]string{"username": "alice", "authority": "example.com"}, ""},
		{"empty equals", []string{"--authority="}, map[string]string{"authority": ""}, ""},
		{"missing value", []string{"--username"}, nil, "requires a value"},
		{"unknown flag", []string{"--admin", "yes"}, nil, "unknown flag"},
		{"positional", []string{"alice"}, nil, "unexpected argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, "username", "authority")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestColorHandler(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.With("component", "auth").WithGroup("req").Warn("ticket verification failed", "userid", "acct:alice@localhost")
	logger.Debug("dropped")

	line := buf.String()
	assert.Contains(t, line, "WRN ticket verification failed")
	assert.Contains(t, line, " component=auth")
	assert.NotContains(t, line, "req.component")
	assert.Contains(t, line, "req.userid=acct:alice@localhost")
	assert.NotContains(t, line, "dropped")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.Debug("issued ticket", "userid", "acct:alice@localhost")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "issued ticket", record["msg"])
	assert.Equal(t, "acct:alice@localhost", record["userid"])
}

func TestRenderConfig(t *testing.T) {
	cookieSecret, err := randomSecret()
	require.NoError(t, err)
	bearerSecret, err := randomSecret()
	require.NoError(t, err)
	assert.NotEqual(t, cookieSecret, bearerSecret)

	cfg, err := config.Parse(renderConfig("/tmp/ticketd.db", cookieSecret, bearerSecret), false)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ticketd.db", cfg.Database.Path)
	assert.Equal(t, cookieSecret, cfg.Cookie.Secret)
	assert.True(t, cfg.Session.Enabled)
	assert.False(t, cfg.Bearer.Enabled)
	assert.Equal(t, config.BackendSQLite, cfg.Tickets.Backend)
}
