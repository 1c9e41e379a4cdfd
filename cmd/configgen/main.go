package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/rosterd/internal/config"
	"github.com/spf13/pflag"
)

const defaultPath = "rosterd.toml"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	kind := fs.String("kind", "rosterd", "config kind: rosterd")
	output := fs.StringP("output", "o", defaultPath, "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.StringP("input", "i", defaultPath, "config path for validation")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		if _, err := config.Template(*kind); err != nil {
			return err
		}
		cfg, err := config.LoadServerConfig(*input)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Validated %s config at %s (listen=%s version=%d db=%s)\n",
			*kind, *input, cfg.ListenAddr, cfg.ProtocolVersion, cfg.DBFile)
		return nil
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s config template to %s\n", *kind, *output)
	return nil
}
