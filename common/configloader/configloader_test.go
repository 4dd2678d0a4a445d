package configloader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Name    string        `mapstructure:"name"`
	Delay   time.Duration `mapstructure:"delay"`
	Enabled bool          `mapstructure:"enabled"`
	Size    int           `mapstructure:"size"`
	Tags    []string      `mapstructure:"tags"`
}

func (s *sample) Validate() error {
	if s.Name == "bad" {
		return errors.New("name must not be bad")
	}
	return nil
}

func TestLoad_DefaultsEnvAndFile(t *testing.T) {
	RegisterDefaultsMap(map[string]interface{}{
		"name":    "def",
		"delay":   "100ms",
		"enabled": false,
		"size":    256,
		"tags":    "",
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("name: fromfile\ntags: a,b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLTEST_ENABLED", "true")
	t.Setenv("CLTEST_SIZE", "10")

	var s sample
	if err := Load(path, "CLTEST", &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "fromfile" {
		t.Errorf("Name = %q; want fromfile", s.Name)
	}
	if s.Delay != 100*time.Millisecond {
		t.Errorf("Delay = %v; want 100ms", s.Delay)
	}
	if !s.Enabled {
		t.Errorf("Enabled = false; want true from env")
	}
	if s.Size != 10 {
		t.Errorf("Size = %d; want 10", s.Size)
	}
	if len(s.Tags) != 2 || s.Tags[0] != "a" || s.Tags[1] != "b" {
		t.Errorf("Tags = %v; want [a b]", s.Tags)
	}
}

func TestLoad_ValidationError(t *testing.T) {
	RegisterDefaults("name", "def")
	t.Setenv("CLBAD_NAME", "bad")

	var s sample
	err := Load("", "CLBAD", &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "CLMISS", &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPrintConfig(t *testing.T) {
	var sb strings.Builder
	if err := PrintConfig(&sb, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), `"a": 1`) {
		t.Errorf("unexpected output %q", sb.String())
	}
}
