package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v2"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "docpipe.db" {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Pipeline.MaxContentBytes != 2<<20 {
		t.Errorf("max content bytes = %d", cfg.Pipeline.MaxContentBytes)
	}
	if cfg.Pipeline.Queues["orchestration"] != 3 || cfg.Pipeline.Queues["processing"] != 8 {
		t.Errorf("queue defaults = %v", cfg.Pipeline.Queues)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("DOCPIPE_TEST_URL", "http://localhost:9000")

	tests := []struct {
		in   string
		want string
	}{
		{"${DOCPIPE_TEST_URL}", "http://localhost:9000"},
		{"prefix-${DOCPIPE_TEST_URL}/path", "prefix-http://localhost:9000/path"},
		{"no refs here", "no refs here"},
		{"${DOCPIPE_UNSET_VAR}", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ResolveEnvVars(tt.in); got != tt.want {
			t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnonymizerURL(t *testing.T) {
	t.Setenv("DOCPIPE_ANONYMIZER_URL", "http://anon.internal:9000")
	cfg := DefaultConfig()
	if got := cfg.AnonymizerURL(); got != "http://anon.internal:9000" {
		t.Errorf("AnonymizerURL() = %q", got)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ListenAddr(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddr() = %q", got)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# docpipe configuration") {
		t.Errorf("header missing:\n%s", data)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Anonymizer.BaseURL != "${DOCPIPE_ANONYMIZER_URL}" {
		t.Errorf("written config = %+v", cfg)
	}
}
