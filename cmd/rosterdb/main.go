// rosterdb edits a roster database file directly, without a server. It must
// not be run against a file a live rosterd has open.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/rosterd/internal/logging"
	"github.com/danmuck/rosterd/internal/protocol/record"
	"github.com/danmuck/rosterd/internal/roster"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type options struct {
	file    string
	create  bool
	add     *record.Employee
	update  string
	hours   uint32
	del     string
	list    bool
	sync    bool
	changed bool
}

func main() {
	logging.ConfigureRuntime("rosterdb")
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rosterdb: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "rosterdb: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := pflag.NewFlagSet("rosterdb", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.StringP("file", "f", "", "database file")
	create := fs.BoolP("new", "n", false, "create a new database file")
	add := fs.StringP("add", "a", "", `add an employee: "name,address,hours"`)
	update := fs.StringP("update", "u", "", "name of the employee whose hours to update (requires --hours)")
	hours := fs.Uint32("hours", 0, "new hours for -u")
	del := fs.StringP("delete", "d", "", "name of the employee to delete")
	list := fs.BoolP("list", "l", false, "list all employees")
	sync := fs.Bool("sync", false, "fsync after writing")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *file == "" {
		return options{}, errors.New("-f <file> is required")
	}
	opts := options{file: *file, create: *create, list: *list, sync: *sync, del: *del, update: *update, hours: *hours}
	if fs.Changed("add") {
		e, err := record.Parse(*add)
		if err != nil {
			return options{}, err
		}
		opts.add = &e
	}
	if fs.Changed("update") != fs.Changed("hours") {
		return options{}, errors.New("-u and --hours must be given together")
	}
	opts.changed = opts.add != nil || opts.update != "" || opts.del != ""
	return opts, nil
}

// run applies the edits in add, update, delete order, then lists.
func run(opts options, out io.Writer) error {
	f, err := roster.OpenFile(opts.file, opts.create)
	if err != nil {
		return err
	}
	defer f.Close()
	store, err := roster.Open(f, roster.Options{SyncWrites: opts.sync})
	if err != nil {
		return err
	}

	if opts.add != nil {
		if err := store.Add(*opts.add); err != nil {
			return err
		}
	}
	if opts.update != "" {
		found, err := store.Update(opts.update, opts.hours)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(out, "no employee named %q\n", opts.update)
		}
	}
	if opts.del != "" {
		found, err := store.Delete(opts.del)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(out, "no employee named %q\n", opts.del)
		}
	}
	if opts.changed {
		h := store.Header()
		log.Info().Str("file", opts.file).Uint32("size", h.FileSize).Uint32("employees", h.EmployeeCount).Msg("database written")
	}
	if opts.list {
		for i, e := range store.List() {
			fmt.Fprintf(out, "Employee %d\n\tName: %s\n\tAddress: %s\n\tHours: %d\n", i, e.Name, e.Address, e.Hours)
		}
	}
	return nil
}
