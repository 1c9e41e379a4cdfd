package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "rosterd", "server":
		return rosterdTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const rosterdTemplate = `# rosterd configuration; command-line flags override these values.
listen_addr = "127.0.0.1:5555"
protocol_version = 1
db_file = "roster.db"

# registry resize threshold (entries per bucket)
load_factor = 0.5
max_payload_bytes = 8388608
sync_writes = false
# database file cap in bytes; 0 means 4 GiB. Adds past it are answered invalid-request.
max_file_bytes = 0

# empty disables the admin HTTP surface (/health, /ready, /metrics)
admin_addr = "127.0.0.1:9155"
log_level = "info"
`
