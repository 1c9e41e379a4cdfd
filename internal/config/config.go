package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rosterd/internal/logging"
	"github.com/danmuck/rosterd/internal/protocol/session"
	"github.com/danmuck/rosterd/internal/registry"
)

var ErrInvalid = errors.New("config: invalid")

// ServerConfig is the resolved rosterd configuration.
type ServerConfig struct {
	ListenAddr      string
	ProtocolVersion uint16
	DBFile          string
	// CreateDB creates a fresh database file; never read from TOML.
	CreateDB        bool
	LoadFactor      float64
	MaxPayloadBytes uint32
	// AdminAddr enables the HTTP admin surface when non-empty.
	AdminAddr  string
	SyncWrites bool
	// MaxFileBytes caps the database file; zero means 4 GiB.
	MaxFileBytes int64
	LogLevel     string
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      "127.0.0.1:5555",
		ProtocolVersion: 1,
		DBFile:          "roster.db",
		LoadFactor:      registry.DefaultLoadFactor,
		MaxPayloadBytes: session.DefaultMaxPayloadBytes,
		LogLevel:        "info",
	}
}

type fileConfig struct {
	ListenAddr      string  `toml:"listen_addr"`
	ProtocolVersion int64   `toml:"protocol_version"`
	DBFile          string  `toml:"db_file"`
	LoadFactor      float64 `toml:"load_factor"`
	MaxPayloadBytes int64   `toml:"max_payload_bytes"`
	AdminAddr       string  `toml:"admin_addr"`
	SyncWrites      bool    `toml:"sync_writes"`
	MaxFileBytes    int64   `toml:"max_file_bytes"`
	LogLevel        string  `toml:"log_level"`
}

// LoadServerConfig overlays the keys defined in the TOML file at path onto
// the defaults and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load rosterd config (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ServerConfig{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("protocol_version") {
		if raw.ProtocolVersion < 0 || raw.ProtocolVersion > math.MaxUint16 {
			return ServerConfig{}, fmt.Errorf("%w: protocol_version %d out of range 0-65535", ErrInvalid, raw.ProtocolVersion)
		}
		cfg.ProtocolVersion = uint16(raw.ProtocolVersion)
	}

	if meta.IsDefined("db_file") {
		cfg.DBFile = strings.TrimSpace(raw.DBFile)
	}

	if meta.IsDefined("load_factor") {
		cfg.LoadFactor = raw.LoadFactor
	}

	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 || raw.MaxPayloadBytes > math.MaxUint32 {
			return ServerConfig{}, fmt.Errorf("%w: max_payload_bytes %d out of range", ErrInvalid, raw.MaxPayloadBytes)
		}
		cfg.MaxPayloadBytes = uint32(raw.MaxPayloadBytes)
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("sync_writes") {
		cfg.SyncWrites = raw.SyncWrites
	}

	if meta.IsDefined("max_file_bytes") {
		if raw.MaxFileBytes < 0 || raw.MaxFileBytes > math.MaxUint32 {
			return ServerConfig{}, fmt.Errorf("%w: max_file_bytes %d out of range 0-%d", ErrInvalid, raw.MaxFileBytes, uint32(math.MaxUint32))
		}
		cfg.MaxFileBytes = raw.MaxFileBytes
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if err := validateHostPort("listen_addr", cfg.ListenAddr); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.DBFile) == "" {
		return fmt.Errorf("%w: db_file is required", ErrInvalid)
	}
	if cfg.LoadFactor <= 0 || cfg.LoadFactor > 8 {
		return fmt.Errorf("%w: load_factor %v must be in (0, 8]", ErrInvalid, cfg.LoadFactor)
	}
	if cfg.MaxPayloadBytes == 0 {
		return fmt.Errorf("%w: max_payload_bytes must be positive", ErrInvalid)
	}
	if cfg.MaxFileBytes < 0 || cfg.MaxFileBytes > math.MaxUint32 {
		return fmt.Errorf("%w: max_file_bytes %d out of range", ErrInvalid, cfg.MaxFileBytes)
	}
	if cfg.AdminAddr != "" {
		if err := validateHostPort("admin_addr", cfg.AdminAddr); err != nil {
			return err
		}
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok && strings.TrimSpace(cfg.LogLevel) != "" {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
	}
	return nil
}

func validateHostPort(key, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, addr, err)
	}
	return nil
}
