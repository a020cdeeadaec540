package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMarketplace(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/otp/validate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"user":          map[string]any{"id": "u-1", "full_name": "Ana Admin"},
		})
	})
	mux.HandleFunc("/customers/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":   1,
			"results": []map[string]any{{"id": 3, "name": "Juan", "city": r.URL.Query().Get("city")}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginListLogout(t *testing.T) {
	up := fakeMarketplace(t)
	common := []string{"--upstream", up.URL, "--session-file", filepath.Join(t.TempDir(), "s.json")}

	_, err := run(t, "", append(common, "list", "customers")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login")

	out, err := run(t, "123456\n", append(common, "login", "--phone", "+5491100000000")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Ana Admin")

	out, err = run(t, "", append(common, "whoami", "-o", "json")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "u-1"`)

	out, err = run(t, "", append(common, "list", "customers", "--filter", "city=Rosario")...)
	require.NoError(t, err)
	assert.Contains(t, out, "3\tcity=Rosario name=Juan")
	assert.Contains(t, out, "(1 de 1)")

	_, err = run(t, "", append(common, "logout")...)
	require.NoError(t, err)
	_, err = run(t, "", append(common, "whoami")...)
	assert.Error(t, err)
}

func TestInvalidOutFormat(t *testing.T) {
	_, err := run(t, "", "--out", "yaml", "logout", "--session-file", filepath.Join(t.TempDir(), "s.json"))
	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"status=paid", "tag=a", "tag=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "paid", "tag": []string{"a", "b"}}, got)

	_, err = parseFilters([]string{"nokey"})
	assert.Error(t, err)

	got, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseData(t *testing.T) {
	rec, err := parseData(`{"name":"x","age":3}`)
	require.NoError(t, err)
	assert.Equal(t, "x", rec["name"])

	_, err = parseData("")
	assert.Error(t, err)
	_, err = parseData("[1,2]")
	assert.Error(t, err)
}
