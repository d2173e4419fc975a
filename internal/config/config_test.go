package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TopK != 4 {
		t.Errorf("expected default top_k 4, got %d", s.TopK)
	}
	if s.MaxToolSteps != 10 {
		t.Errorf("expected default max_tool_steps 10, got %d", s.MaxToolSteps)
	}
	if s.CallTimeout != 30*time.Second {
		t.Errorf("expected default call_timeout 30s, got %s", s.CallTimeout)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "top_k: 6\naggregation_top_k: 20\nexport_dir: /tmp/exports\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TopK != 6 {
		t.Errorf("expected top_k 6 from YAML, got %d", s.TopK)
	}
	if s.ExportDir != "/tmp/exports" {
		t.Errorf("expected export_dir from YAML, got %s", s.ExportDir)
	}
	// Untouched fields keep their defaults.
	if s.MaxToolSteps != 10 {
		t.Errorf("expected default max_tool_steps, got %d", s.MaxToolSteps)
	}
}

func TestLoadEnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("top_k: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EDUDOC_TOP_K", "8")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TopK != 8 {
		t.Errorf("expected environment to win over YAML, got %d", s.TopK)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Errorf("a missing config file should not be an error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero top_k", func(s *Settings) { s.TopK = 0 }},
		{"aggregation below top_k", func(s *Settings) { s.AggregationTopK = s.TopK - 1 }},
		{"zero tool steps", func(s *Settings) { s.MaxToolSteps = 0 }},
		{"zero timeout", func(s *Settings) { s.CallTimeout = 0 }},
	}

	for _, tc := range testCases {
		s := Default()
		tc.mutate(s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}
