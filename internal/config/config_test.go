package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/rosterd/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rosterd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
listen_addr = "0.0.0.0:6000"
protocol_version = 7
sync_writes = true
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:6000" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.ProtocolVersion != 7 {
		t.Fatalf("unexpected version: %d", cfg.ProtocolVersion)
	}
	if !cfg.SyncWrites {
		t.Fatalf("expected sync_writes enabled")
	}
	def := DefaultServerConfig()
	if cfg.DBFile != def.DBFile || cfg.LoadFactor != def.LoadFactor || cfg.MaxPayloadBytes != def.MaxPayloadBytes {
		t.Fatalf("undefined keys should keep defaults: %+v", cfg)
	}
	if cfg.AdminAddr != "" {
		t.Fatalf("admin surface should default off, got %q", cfg.AdminAddr)
	}
}

func TestTemplateIsValidConfig(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "rosterd.toml")
	if err := WriteTemplate(path, "rosterd", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if cfg.AdminAddr != "127.0.0.1:9155" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected template values: %+v", cfg)
	}
	if err := WriteTemplate(path, "rosterd", false); err == nil {
		t.Fatalf("expected refusal to overwrite existing config")
	}
	if err := WriteTemplate(path, "rosterd", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
	if _, err := Template("ledger"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestLoadServerConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"version-range": `protocol_version = 70000`,
		"negative":      `protocol_version = -1`,
		"payload-zero":  `max_payload_bytes = 0`,
		"load-factor":   `load_factor = 0.0`,
		"listen-addr":   `listen_addr = "nonsense"`,
		"admin-addr":    `admin_addr = "9155"`,
		"log-level":     `log_level = "loud"`,
		"db-file":       `db_file = "  "`,
		"unknown-key":   `listen_port = 5555`,
		"file-cap":      `max_file_bytes = -1`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadServerConfig(writeConfig(t, body)); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestServerConversion(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServerConfig()
	cfg.ProtocolVersion = 9
	cfg.MaxPayloadBytes = 1024
	cfg.SyncWrites = true
	cfg.MaxFileBytes = 4096

	srv := cfg.Server()
	if srv.ListenAddr != cfg.ListenAddr || srv.Session.Version != 9 || srv.Session.MaxPayloadBytes != 1024 {
		t.Fatalf("unexpected server config: %+v", srv)
	}
	if opts := cfg.Store(); !opts.SyncWrites || opts.MaxFileSize != 4096 {
		t.Fatalf("unexpected store options: %+v", opts)
	}
}
