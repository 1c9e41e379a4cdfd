package config

import (
	"github.com/danmuck/rosterd/internal/protocol/session"
	"github.com/danmuck/rosterd/internal/roster"
	"github.com/danmuck/rosterd/internal/server"
)

func (c ServerConfig) Server() server.Config {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = c.ListenAddr
	cfg.LoadFactor = c.LoadFactor
	cfg.Session = session.Config{
		Version:         c.ProtocolVersion,
		MaxPayloadBytes: c.MaxPayloadBytes,
	}
	return cfg
}

func (c ServerConfig) Store() roster.Options {
	return roster.Options{SyncWrites: c.SyncWrites, MaxFileSize: c.MaxFileBytes}
}
