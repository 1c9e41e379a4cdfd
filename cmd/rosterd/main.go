package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rosterd/internal/config"
	"github.com/danmuck/rosterd/internal/logging"
	"github.com/danmuck/rosterd/internal/observability"
	"github.com/danmuck/rosterd/internal/roster"
	"github.com/danmuck/rosterd/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const appVersion = "0.1.0"

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rosterd: %v\n", err)
		os.Exit(2)
	}

	logging.Configure(logging.ProfileRuntime, "rosterd", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("rosterd stopped")
		stop()
		os.Exit(1)
	}
}

// parseFlags resolves the configuration: defaults, then the --config file,
// then any flag given explicitly.
func parseFlags(args []string, stderr io.Writer) (config.ServerConfig, error) {
	fs := pflag.NewFlagSet("rosterd", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	def := config.DefaultServerConfig()

	configPath := fs.StringP("config", "c", "", "path to a rosterd TOML config")
	addr := fs.StringP("addr", "a", def.ListenAddr, "listen address host:port")
	version := fs.Uint16P("version", "v", def.ProtocolVersion, "protocol version accepted from clients")
	file := fs.StringP("file", "f", def.DBFile, "roster database file")
	create := fs.BoolP("new", "n", false, "create a new database file (fails if it exists)")
	adminAddr := fs.String("admin-addr", def.AdminAddr, "admin HTTP listen address; empty disables it")
	logLevel := fs.String("log-level", def.LogLevel, "log level: trace|debug|info|warn|error|disabled")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: rosterd [-c config.toml] -a <host:port> -v <version> -f <file> [-n]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return config.ServerConfig{}, err
	}
	if fs.NArg() > 0 {
		return config.ServerConfig{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := def
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	if fs.Changed("addr") {
		cfg.ListenAddr = *addr
	}
	if fs.Changed("version") {
		cfg.ProtocolVersion = *version
	}
	if fs.Changed("file") {
		cfg.DBFile = *file
	}
	if fs.Changed("admin-addr") {
		cfg.AdminAddr = *adminAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	cfg.CreateDB = *create

	if err := config.ValidateServerConfig(cfg); err != nil {
		return config.ServerConfig{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	f, err := roster.OpenFile(cfg.DBFile, cfg.CreateDB)
	if err != nil {
		return err
	}
	defer f.Close()

	store, err := roster.Open(f, cfg.Store())
	if err != nil {
		return err
	}
	log.Info().
		Str("file", cfg.DBFile).
		Bool("created", cfg.CreateDB).
		Int("employees", store.Len()).
		Msg("roster loaded")

	srv := server.New(cfg.Server(), store)
	if err := srv.Listen(); err != nil {
		return err
	}

	adminErr := make(chan error, 1)
	adminCtx, cancelAdmin := context.WithCancel(ctx)
	defer cancelAdmin()
	if cfg.AdminAddr != "" {
		admin := observability.NewAdmin("rosterd", cfg.AdminAddr, appVersion, srv.Stats)
		go func() { adminErr <- admin.Serve(adminCtx) }()
	} else {
		adminErr <- nil
	}

	serveErr := srv.Serve(ctx)
	cancelAdmin()
	if err := <-adminErr; err != nil {
		log.Warn().Err(err).Msg("admin http stopped")
	}
	if serveErr != nil {
		return serveErr
	}
	log.Info().Int("employees", store.Len()).Uint64("rewrites", store.Rewrites()).Msg("rosterd shut down")
	return nil
}
