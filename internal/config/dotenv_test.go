package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvParsesFile(t *testing.T) {
	// t.Setenv registers a restore for each key; the empty values let
	// LoadDotEnv fill them in.
	t.Setenv("TRAMPOJA_TEST_PLAIN", "")
	t.Setenv("TRAMPOJA_TEST_QUOTED", "")
	t.Setenv("TRAMPOJA_TEST_EXPORTED", "")
	t.Setenv("TRAMPOJA_TEST_PRESET", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	content := `# local overrides
TRAMPOJA_TEST_PLAIN=abc
TRAMPOJA_TEST_QUOTED="with spaces"
export TRAMPOJA_TEST_EXPORTED=yes
TRAMPOJA_TEST_PRESET=from-file

not-a-pair
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if got := os.Getenv("TRAMPOJA_TEST_PLAIN"); got != "abc" {
		t.Errorf("plain = %q, want abc", got)
	}
	if got := os.Getenv("TRAMPOJA_TEST_QUOTED"); got != "with spaces" {
		t.Errorf("quoted = %q, want unquoted value", got)
	}
	if got := os.Getenv("TRAMPOJA_TEST_EXPORTED"); got != "yes" {
		t.Errorf("exported = %q, want yes", got)
	}
	if got := os.Getenv("TRAMPOJA_TEST_PRESET"); got != "from-env" {
		t.Errorf("preset = %q, env must take precedence", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
