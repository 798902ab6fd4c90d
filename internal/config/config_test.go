package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_AppliesYAMLToEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("OLLAMA_MODEL", "")
	t.Setenv("QDRANT_PORT", "")
	t.Setenv("QDRANT_TLS", "")
	t.Setenv("RAGSERVE_MAX_CONTEXT_TOKENS", "")

	path := writeConfig(t, `
model:
  provider: ollama
  ollama:
    model: llama3
qdrant:
  port: 6334
  tls: true
server:
  max_context_tokens: 4000
`)

	loaded, err := Load(path, slog.Default())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != path {
		t.Errorf("expected loaded path %q, got %q", path, loaded)
	}

	cases := map[string]string{
		"MODEL_PROVIDER":              "ollama",
		"OLLAMA_MODEL":                "llama3",
		"QDRANT_PORT":                 "6334",
		"QDRANT_TLS":                  "true",
		"RAGSERVE_MAX_CONTEXT_TOKENS": "4000",
	}
	for key, want := range cases {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestLoad_EnvWins(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")

	path := writeConfig(t, "model:\n  provider: ollama\n")
	if _, err := Load(path, slog.Default()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := os.Getenv("MODEL_PROVIDER"); got != "openai" {
		t.Errorf("expected env value preserved, got %q", got)
	}
}

func TestLoad_ZeroValuesNotApplied(t *testing.T) {
	t.Setenv("RAGSERVE_PORT", "")
	t.Setenv("QDRANT_TLS", "")

	path := writeConfig(t, "server:\n  port: 0\nqdrant:\n  tls: false\n")
	if _, err := Load(path, slog.Default()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Zero-valued YAML fields are indistinguishable from absent ones and must
	// not clobber the defaults.
	if got := os.Getenv("RAGSERVE_PORT"); got != "" {
		t.Errorf("expected RAGSERVE_PORT unset, got %q", got)
	}
	if got := os.Getenv("QDRANT_TLS"); got != "" {
		t.Errorf("expected QDRANT_TLS unset, got %q", got)
	}
}

func TestLoad_NoFileFound(t *testing.T) {
	t.Setenv("RAGSERVE_CONFIG", "")
	t.Setenv("HOME", t.TempDir()) // no ~/.ragserve/config.yaml
	t.Chdir(t.TempDir())          // no ./ragserve.yaml

	loaded, err := Load("", slog.Default())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != "" {
		t.Errorf("expected empty path when no file exists, got %q", loaded)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "model: [not a mapping")
	if _, err := Load(path, slog.Default()); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("RAGSERVE_CONFIG", "")

	explicit := writeConfig(t, "model:\n  provider: ollama\n")

	// Explicit path wins and missing explicit paths resolve to nothing.
	if got := resolveConfigPath(explicit); got != explicit {
		t.Errorf("expected explicit path, got %q", got)
	}
	if got := resolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); got != "" {
		t.Errorf("expected empty for missing explicit path, got %q", got)
	}

	// RAGSERVE_CONFIG is consulted when no explicit path is given.
	t.Setenv("RAGSERVE_CONFIG", explicit)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	if got := resolveConfigPath(""); got != explicit {
		t.Errorf("expected env-resolved path, got %q", got)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float32
		want string
	}{
		{0, ""},
		{0.7, "0.7"},
		{0.25, "0.25"},
		{1, "1"},
	}
	for _, tc := range cases {
		if got := float32Str(tc.in); got != tc.want {
			t.Errorf("float32Str(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
