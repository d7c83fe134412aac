package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInit_WritesWorkspace(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, runInit(&out, dir, false))

	for _, rel := range []string{
		"config.yaml",
		"crm.yaml",
		filepath.Join("snapshots", "thread-42", "1.json"),
		filepath.Join("snapshots", "5511987654321@s.whatsapp.net", "1.json"),
		".mcp.json",
	} {
		assert.FileExists(t, filepath.Join(dir, rel))
	}
	assert.Contains(t, out.String(), "created ./config.yaml")
	assert.Contains(t, out.String(), "created .mcp.json with vigil MCP server")
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("custom: true\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runInit(&out, dir, false))

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "custom: true\n", string(data))
	assert.Contains(t, out.String(), "skipped ./config.yaml")

	require.NoError(t, runInit(&out, dir, true))
	data, err = os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider:")
}

func TestMergeMCPConfig_PreservesOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"other":{"type":"stdio","command":"other"}}}`), 0o644))

	var out bytes.Buffer
	require.NoError(t, mergeMCPConfig(&out, path, false))
	assert.Contains(t, out.String(), "updated .mcp.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg mcpConfig
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Contains(t, cfg.MCPServers, "other")
	require.Contains(t, cfg.MCPServers, "vigil")

	var entry struct {
		Command string   `json:"command"`
		Args    []string `json:"args"`
	}
	require.NoError(t, json.Unmarshal(cfg.MCPServers["vigil"], &entry))
	assert.Equal(t, "vigil", entry.Command)
	assert.Equal(t, []string{"serve", "--transport", "stdio"}, entry.Args)

	out.Reset()
	require.NoError(t, mergeMCPConfig(&out, path, false))
	assert.Contains(t, out.String(), "skipped .mcp.json vigil entry")
}

func TestMergeMCPConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".mcp.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	err := mergeMCPConfig(&bytes.Buffer{}, path, false)
	assert.ErrorContains(t, err, "parsing")
}
