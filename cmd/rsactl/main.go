// Command rsactl runs path, allocation and commit operations directly
// against the configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/signalsfoundry/flexgrid-rsa/internal/config"
	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/report"
	"github.com/signalsfoundry/flexgrid-rsa/internal/rsa"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store/backend"
)

const usage = `usage: rsactl [global flags] <command> [flags]

commands:
  load      -file topology.json          load a topology seed into the store
  devices                                list devices and endpoints
  links                                  list links with derived status
  paths     -src D [-src-port P] -dst D [-dst-port P] [-gbps N]
  allocate  -links id,id,... -gbps N     first-fit allocation over links
  commit    -links id,id,... -mask BITS [-versions file.json]
  export    -out report.xlsx             write the spectrum workbook
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "rsactl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("rsactl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	envFile := global.String("env", ".env", "Optional .env file")
	storeKind := global.String("store", "", "Store backend (overrides RSA_STORE)")
	sqlitePath := global.String("sqlite-path", "", "SQLite database file (overrides RSA_SQLITE_PATH)")
	dsn := global.String("dsn", "", "Postgres DSN (overrides DATABASE_DSN)")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *storeKind != "" {
		cfg.Store = strings.ToLower(*storeKind)
	}
	if *sqlitePath != "" {
		cfg.SQLitePath = *sqlitePath
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	// The CLI only seeds through the load command.
	cfg.Topology = ""
	cfg.Logging.Output = stderr
	log := logging.New(cfg.Logging)

	st, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	svc := rsa.NewService(st, rsa.WithLogger(log), rsa.WithHopCutoff(cfg.HopCutoff))

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "load":
		return runLoad(ctx, st, rest, stdout, stderr)
	case "devices":
		devices, err := svc.Devices(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, devices)
	case "links":
		links, err := svc.Links(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, links)
	case "paths":
		return runPaths(ctx, svc, rest, stdout, stderr)
	case "allocate":
		return runAllocate(ctx, svc, rest, stdout, stderr)
	case "commit":
		return runCommit(ctx, svc, rest, stdout, stderr)
	case "export":
		return runExport(ctx, svc, rest, stdout, stderr)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runLoad(ctx context.Context, st store.Store, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("load", stderr)
	file := fs.String("file", "", "Topology JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("load: -file is required")
	}
	sum, err := store.LoadFile(ctx, st, *file)
	if err != nil {
		return err
	}
	return printJSON(stdout, sum)
}

func runPaths(ctx context.Context, svc *rsa.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("paths", stderr)
	var req rsa.FindPathsRequest
	fs.StringVar(&req.SrcDevice, "src", "", "Source device ID or name")
	fs.StringVar(&req.SrcPort, "src-port", "", "Source port ID or name")
	fs.StringVar(&req.DstDevice, "dst", "", "Destination device ID or name")
	fs.StringVar(&req.DstPort, "dst-port", "", "Destination port ID or name")
	fs.Float64Var(&req.BandwidthGbps, "gbps", 0, "Optional demand; allocates on the shortest path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := svc.FindPaths(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

func runAllocate(ctx context.Context, svc *rsa.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("allocate", stderr)
	links := fs.String("links", "", "Comma-separated link IDs in path order")
	gbps := fs.Float64("gbps", 0, "Demand in Gb/s")
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := svc.AllocateLinks(ctx, splitList(*links), *gbps)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

func runCommit(ctx context.Context, svc *rsa.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("commit", stderr)
	links := fs.String("links", "", "Comma-separated link IDs in path order")
	mask := fs.String("mask", "", "Slot mask, most significant bit first")
	versionsFile := fs.String("versions", "", "JSON file of endpoint versions seen by the allocation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := rsa.CommitRequest{LinkIDs: splitList(*links), Mask: *mask}
	if *versionsFile != "" {
		data, err := os.ReadFile(*versionsFile)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &req.ExpectedVersions); err != nil {
			return fmt.Errorf("parse %s: %w", *versionsFile, err)
		}
	}
	res, err := svc.Commit(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

func runExport(ctx context.Context, svc *rsa.Service, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", stderr)
	out := fs.String("out", "spectrum-report.xlsx", "Output workbook path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	snap, err := svc.Inventory(ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := report.Write(f, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d devices, %d links)\n", *out, len(snap.Devices), len(snap.Links))
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
