package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayven122/tumiki-sub015/internal/auth"
)

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestAdminCmd(t *testing.T) {
	cmd := adminCmd()

	assert.Equal(t, "admin", cmd.Use)
	assert.Equal(t, "Administrative commands", cmd.Short)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.ElementsMatch(t, []string{"check-config", "parse-tool", "hash-key"}, names)
}

func TestCheckConfigCmd(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		path := writeConfig(t, "version: 1\nserver:\n  port: 8181\nsessions:\n  max_sessions: 7\n")

		out, err := execute(t, checkConfigCmd(), "", "--config", path)
		require.NoError(t, err)

		assert.Contains(t, out, "Configuration OK")
		assert.Contains(t, out, ":8181")
		assert.Contains(t, out, "Sessions: max 7")
		assert.Contains(t, out, "Cache: memory")
	})

	t.Run("unsupported_version", func(t *testing.T) {
		path := writeConfig(t, "version: 2\n")

		_, err := execute(t, checkConfigCmd(), "", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config version")
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := execute(t, checkConfigCmd(), "", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration")
	})
}

func TestParseToolCmd(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    []string
		wantErr bool
	}{
		{name: "instance_and_tool", arg: "github__create_issue", want: []string{"Instance: github", "Tool: create_issue"}},
		{name: "unified", arg: "clxsrv__github__create_issue", want: []string{"Server: clxsrv", "Instance: github", "Tool: create_issue"}},
		{name: "no_separator", arg: "create_issue", wantErr: true},
		{name: "too_many_parts", arg: "a__b__c__d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, parseToolCmd(), "", tt.arg)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			for _, line := range tt.want {
				assert.Contains(t, out, line)
			}

			if len(tt.want) == 2 {
				assert.NotContains(t, out, "Server:")
			}
		})
	}
}

func TestHashKeyCmd(t *testing.T) {
	t.Run("hashes_stdin", func(t *testing.T) {
		out, err := execute(t, hashKeyCmd(), "tumiki_live_key_0001\n")
		require.NoError(t, err)

		assert.Equal(t, auth.HashAPIKey("tumiki_live_key_0001")+"\n", out)
		assert.NotContains(t, out, "tumiki_live_key_0001")
	})

	t.Run("empty_input", func(t *testing.T) {
		_, err := execute(t, hashKeyCmd(), "  \n")
		require.Error(t, err)
	})
}
