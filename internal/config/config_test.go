package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromEnvDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/newsletters_test
`)
	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Environment != "development" {
		t.Errorf("default environment = %q", cfg.Server.Environment)
	}
	if cfg.Defaults.Provider != "postmark" {
		t.Errorf("default provider = %q, want postmark", cfg.Defaults.Provider)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/newsletters_test
`)
	t.Setenv("PORT", "9090")
	t.Setenv("CRON_SECRET", "from-env")

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want env override 9090", cfg.Server.Port)
	}
	if cfg.Cron.Secret != "from-env" {
		t.Errorf("cron secret = %q, want env override", cfg.Cron.Secret)
	}
}

func TestValidateProductionRequiresSecrets(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing cron secret",
			yaml: `
server:
  environment: production
database:
  url: postgres://localhost/n
webhook:
  secret: whsec
postmark:
  server_token: pm-token
`,
		},
		{
			name: "missing webhook secret",
			yaml: `
server:
  environment: production
database:
  url: postgres://localhost/n
cron:
  secret: cronsec
postmark:
  server_token: pm-token
`,
		},
		{
			name: "missing default provider credentials",
			yaml: `
server:
  environment: production
database:
  url: postgres://localhost/n
cron:
  secret: cronsec
webhook:
  secret: whsec
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromEnv(writeConfig(t, tt.yaml)); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	if _, err := LoadFromEnv(writeConfig(t, `server: {port: 8081}`)); err == nil {
		t.Error("expected error for missing database url")
	}
}
