// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mre.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeConfig(t, "dataDir: "+dir+"\nstore:\n  backend: memory\n")
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, configCLI([]string{"validate", "-f", good}, &out, &errOut), errOut.String())
	assert.Contains(t, out.String(), "Config OK")

	bad := writeConfig(t, "store:\n  backend: cassandra\n")
	out.Reset()
	errOut.Reset()
	assert.Equal(t, 1, configCLI([]string{"validate", "--file", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "cassandra")

	assert.Equal(t, 2, configCLI([]string{"frobnicate"}, &out, &errOut))
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	file := writeConfig(t, `dataDir: `+dir+`
store:
  backend: redis
  redis:
    addr: localhost:6379
    password: hunter2
`)
	var out, errOut bytes.Buffer
	require.Equal(t, 0, configCLI([]string{"dump", "-f", file, "--format=json"}, &out, &errOut), errOut.String())
	assert.NotContains(t, out.String(), "hunter2")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &parsed))

	out.Reset()
	require.Equal(t, 0, configCLI([]string{"dump", "-f", file}, &out, &errOut))
	var asYAML map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &asYAML))
	assert.NotContains(t, out.String(), "hunter2")
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, healthcheck([]string{"-mode", "live", "-addr", addr}, &out, &errOut))
	assert.Contains(t, out.String(), "successful (live)")

	assert.Equal(t, 1, healthcheck([]string{"-addr", addr}, &out, &errOut))
	assert.Contains(t, errOut.String(), "503")
}
