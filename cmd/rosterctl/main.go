package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/rosterd/internal/client"
	"github.com/danmuck/rosterd/internal/logging"
	"github.com/danmuck/rosterd/internal/protocol/option"
	"github.com/danmuck/rosterd/internal/protocol/record"
	"github.com/spf13/pflag"
)

type invocation struct {
	cfg client.Config
	req option.Request
}

func main() {
	logging.ConfigureRuntime("rosterctl")
	inv, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rosterctl: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), inv, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rosterctl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (invocation, error) {
	fs := pflag.NewFlagSet("rosterctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	def := client.DefaultConfig()

	host := fs.StringP("host", "H", "127.0.0.1", "server host")
	port := fs.StringP("port", "p", "5555", "server port")
	version := fs.Uint16P("version", "v", def.Version, "protocol version to request")
	add := fs.StringP("add", "a", "", `add an employee: "name,address,hours"`)
	update := fs.StringP("update", "u", "", "name of the employee whose hours to update (requires -n)")
	hours := fs.Uint32P("hours", "n", 0, "new hours for -u")
	del := fs.StringP("delete", "d", "", "name of the employee to delete")
	list := fs.BoolP("list", "l", false, "list all employees")
	timeout := fs.Duration("timeout", def.IOTimeout, "per-request I/O timeout")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: rosterctl -H <host> -p <port> [-a employee] [-u name -n hours] [-d name] [-l]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return invocation{}, err
	}
	if fs.NArg() > 0 {
		return invocation{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	inv := invocation{cfg: def}
	inv.cfg.Address = net.JoinHostPort(*host, *port)
	inv.cfg.Version = *version
	inv.cfg.IOTimeout = *timeout

	if fs.Changed("add") {
		e, err := record.Parse(*add)
		if err != nil {
			return invocation{}, err
		}
		inv.req.Add = &e
	}
	switch {
	case fs.Changed("update") && !fs.Changed("hours"):
		return invocation{}, errors.New("-u requires -n <hours>")
	case fs.Changed("hours") && !fs.Changed("update"):
		return invocation{}, errors.New("-n is only valid with -u <name>")
	case fs.Changed("update"):
		if *update == "" {
			return invocation{}, errors.New("-u requires a name")
		}
		inv.req.Update = &option.Update{Name: *update, Hours: *hours}
	}
	if fs.Changed("delete") {
		if *del == "" {
			return invocation{}, errors.New("-d requires a name")
		}
		inv.req.Delete = &option.Delete{Name: *del}
	}
	inv.req.List = *list
	return inv, nil
}

func run(ctx context.Context, inv invocation, out io.Writer) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	c, err := client.Dial(dialCtx, inv.cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Do(ctx, inv.req)
	if err != nil {
		return err
	}
	return render(out, inv.req, res)
}

func render(out io.Writer, req option.Request, res client.Result) error {
	if res.NotFound {
		fmt.Fprintln(out, "employee not found")
	}
	if !req.List {
		if !res.NotFound {
			fmt.Fprintln(out, "ok")
		}
		return nil
	}
	fmt.Fprintf(out, "%d employees\n", len(res.Employees))
	for i, e := range res.Employees {
		if _, err := fmt.Fprintf(out, "[%d] name=%q address=%q hours=%d\n", i, e.Name, e.Address, e.Hours); err != nil {
			return err
		}
	}
	return nil
}
