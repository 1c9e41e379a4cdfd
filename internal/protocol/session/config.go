package session

// DefaultMaxPayloadBytes bounds the declared length of one request payload.
const DefaultMaxPayloadBytes = 8 * 1024 * 1024

// Config defines per-connection protocol limits.
type Config struct {
	// Version is the protocol version the server accepts.
	Version uint16
	// MaxPayloadBytes bounds db-access payload allocation.
	MaxPayloadBytes uint32
}

func DefaultConfig() Config {
	return Config{
		Version:         1,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

// WithDefaults fills zero-valued limits.
func (c Config) WithDefaults() Config {
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return c
}
