package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hanpama/chaingraph/internal/bridge"
	"github.com/hanpama/chaingraph/internal/chain"
	"github.com/hanpama/chaingraph/internal/config"
	"github.com/hanpama/chaingraph/internal/logging"
	"github.com/hanpama/chaingraph/internal/schema"
)

const rootUsage = `chaingraph - GraphQL API over chain storage and query modules

USAGE:
  chaingraph <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL server backed by a node
  compile-sdl      Print the schema generated from metadata and a query module
  resolvers        List the resolvers exported by a query module
  metadata         Fetch runtime metadata and write it as a YAML snapshot
  help             Show help for any command

Every command accepts -config <file.yaml>; explicit flags override the file.
`

const chainFlagsUsage = `  -chain.endpoint <url>               Node websocket endpoint (default: ws://127.0.0.1:9944)
  -chain.metadata <file>              Metadata snapshot used instead of the node's metadata
  -chain.types <file>                 Custom type bundle (YAML or JSON)
  -chain.blacklist <module>           Module excluded from the schema. Repeatable,
                                      replaces the default consensus modules
  -chain.ss58-prefix <n>              SS58 address prefix (default: 42)
  -chain.dial-timeout <duration>      Websocket handshake timeout (default: 10s)
  -chain.hash-cache-life <duration>   Block hash cache lifetime (default: 10m)
`

const guestFlagsUsage = `  -guest.module <file.wasm>           Compiled query module
  -guest.timeout <duration>           Per-execution timeout (default: 30s)
  -guest.concurrency <n>              Guest executions started per batch (default: 16)
`

const logFlagsUsage = `  -log.level <level>                  debug, info, warn or error (default: info)
  -log.format <format>                console or json (default: console)
  -log.file <file>                    Also write JSON lines to a rotated file
`

const serveUsage = `serve FLAGS:
  -config <file.yaml>                 Config file
` + chainFlagsUsage + guestFlagsUsage + `  -server.addr <addr>                 HTTP listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout (default: 30s)
  -server.max-body-bytes <n>          Request body limit (default: 1048576)
  -server.cors-origin <origin>        Allowed CORS origin. Repeatable
  -server.graphiql <bool>             Serve GraphiQL on GET without a query (default: true)
  -server.batch-concurrency <n>       Operations of one batch executed at once (default: 4)
  -graphql.introspection <bool>       Enable GraphQL introspection (default: true)
  -metrics.path <path>                Prometheus metrics path, empty disables (default: /metrics)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: chaingraph)
` + logFlagsUsage

const compileSDLUsage = `compile-sdl FLAGS:
  -config <file.yaml>                 Config file
` + chainFlagsUsage + guestFlagsUsage + logFlagsUsage + `  -sorted                             Print types sorted by name
  -out <file>                         Write the SDL to file (default: stdout)
  (Without -chain.metadata the node is asked for its metadata)
`

const resolversUsage = `resolvers FLAGS:
  -config <file.yaml>                 Config file
` + guestFlagsUsage + logFlagsUsage

const metadataUsage = `metadata FLAGS:
  -config <file.yaml>                 Config file
  -chain.endpoint <url>               Node websocket endpoint (default: ws://127.0.0.1:9944)
  -chain.dial-timeout <duration>      Websocket handshake timeout (default: 10s)
  -out <file>                         Write the snapshot to file (default: stdout)
` + logFlagsUsage

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c := &cli{stdout: os.Stdout, stderr: os.Stderr}
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "chaingraph:", err)
		stop()
		os.Exit(1)
	}
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, rootUsage)
		return fmt.Errorf("missing command")
	}
	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "serve":
		return c.serve(ctx, cmdArgs)
	case "compile-sdl":
		return c.compileSDL(ctx, cmdArgs)
	case "resolvers":
		return c.resolvers(ctx, cmdArgs)
	case "metadata":
		return c.metadata(ctx, cmdArgs)
	case "help", "-h", "-help", "--help":
		return c.help(cmdArgs)
	default:
		fmt.Fprint(c.stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) help(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(c.stdout, serveUsage)
	case "compile-sdl":
		fmt.Fprint(c.stdout, compileSDLUsage)
	case "resolvers":
		fmt.Fprint(c.stdout, resolversUsage)
	case "metadata":
		fmt.Fprint(c.stdout, metadataUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	return fs
}

func (c *cli) compileSDL(ctx context.Context, args []string) error {
	fs := newFlagSet("compile-sdl")
	sorted := fs.Bool("sorted", false, "Print types sorted by name")
	outFile := fs.String("out", "", "Write the SDL to file")
	cfg, err := config.Parse(fs, args, config.ChainFlags, config.GuestFlags, config.LogFlags)
	if err != nil {
		fmt.Fprint(c.stderr, compileSDLUsage)
		return err
	}
	log, err := logging.New(withConsole(cfg.Log, c.stderr))
	if err != nil {
		return err
	}
	defer log.Sync()

	var rpc chain.RPC
	if cfg.Chain.Metadata == "" {
		client, err := dial(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer client.Close()
		rpc = client
	}
	st, err := loadStack(ctx, cfg, log, rpc)
	if err != nil {
		return err
	}
	defer st.Close()
	doc, err := st.assemble(cfg)
	if err != nil {
		return err
	}

	sdl := doc.SDL
	if *sorted {
		sdl = schema.Render(doc.Schema)
	}
	if *outFile == "" {
		fmt.Fprint(c.stdout, sdl)
		return nil
	}
	return os.WriteFile(*outFile, []byte(sdl), 0o644)
}

func (c *cli) resolvers(ctx context.Context, args []string) error {
	fs := newFlagSet("resolvers")
	cfg, err := config.Parse(fs, args, config.GuestFlags, config.LogFlags)
	if err != nil {
		fmt.Fprint(c.stderr, resolversUsage)
		return err
	}
	if cfg.Guest.Module == "" {
		fmt.Fprint(c.stderr, resolversUsage)
		return fmt.Errorf("-guest.module is required")
	}
	log, err := logging.New(withConsole(cfg.Log, c.stderr))
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := loadStack(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer st.Close()
	printResolvers(c.stdout, st.resolvers)
	return nil
}

// printResolvers writes one line per leaf resolver in export order.
func printResolvers(w io.Writer, ns *bridge.Namespace) {
	var walk func(n *bridge.Namespace)
	walk = func(n *bridge.Namespace) {
		if r := n.Resolver(); r != nil {
			line := strings.Join(r.Path, ".")
			if len(r.Filters) > 0 {
				line += "(" + strings.Join(r.Filters, ", ") + ")"
			}
			fmt.Fprintf(w, "%s: %s\n", line, r.ReturnTypeSDL)
			return
		}
		for _, name := range n.Names() {
			walk(n.Child(name))
		}
	}
	if ns != nil {
		walk(ns)
	}
}

func (c *cli) metadata(ctx context.Context, args []string) error {
	fs := newFlagSet("metadata")
	outFile := fs.String("out", "", "Write the snapshot to file")
	cfg, err := config.Parse(fs, args, config.ChainFlags, config.LogFlags)
	if err != nil {
		fmt.Fprint(c.stderr, metadataUsage)
		return err
	}
	log, err := logging.New(withConsole(cfg.Log, c.stderr))
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := dial(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()
	md, err := chain.FetchMetadata(ctx, client)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}

	w := c.stdout
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return md.WriteSnapshot(w)
}

func withConsole(opts logging.Options, w io.Writer) logging.Options {
	if opts.Console == nil {
		opts.Console = w
	}
	return opts
}
