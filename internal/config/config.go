// Package config holds the settings shared by the chaingraph commands. Values
// come from built-in defaults, then an optional YAML file named by -config,
// then explicit flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/logging"
	"github.com/hanpama/chaingraph/internal/metadata"
)

type Config struct {
	Chain   Chain           `yaml:"chain"`
	Guest   Guest           `yaml:"guest"`
	Server  Server          `yaml:"server"`
	GraphQL GraphQL         `yaml:"graphql"`
	Log     logging.Options `yaml:"log"`
	Metrics Metrics         `yaml:"metrics"`
	OTel    OTel            `yaml:"otel"`
}

type Chain struct {
	// Endpoint is the node websocket URL.
	Endpoint string `yaml:"endpoint"`
	// Metadata is a snapshot written by `chaingraph metadata`. When set,
	// schema generation does not fetch metadata from the node.
	Metadata      string        `yaml:"metadata"`
	Types         string        `yaml:"types"`
	Blacklist     []string      `yaml:"blacklist"`
	SS58Prefix    uint8         `yaml:"ss58_prefix"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	HashCacheLife time.Duration `yaml:"hash_cache_life"`
}

type Guest struct {
	// Module is the path of the compiled query module.
	Module      string        `yaml:"module"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

type Server struct {
	Addr         string        `yaml:"addr"`
	Pretty       bool          `yaml:"pretty"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	GraphiQL     bool          `yaml:"graphiql"`
	// BatchConcurrency bounds the operations of one batched request that
	// execute at the same time.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

type GraphQL struct {
	Introspection bool `yaml:"introspection"`
}

type Metrics struct {
	// Path serves prometheus metrics on the GraphQL listener. Empty disables.
	Path string `yaml:"path"`
}

type OTel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Chain: Chain{
			Endpoint:      "ws://127.0.0.1:9944",
			Blacklist:     append([]string(nil), metadata.DefaultBlacklist...),
			SS58Prefix:    codec.DefaultSS58Prefix,
			DialTimeout:   10 * time.Second,
			HashCacheLife: 10 * time.Minute,
		},
		Guest: Guest{Timeout: 30 * time.Second, Concurrency: 16},
		Server: Server{
			Addr:             ":8080",
			Timeout:          30 * time.Second,
			MaxBodyBytes:     1 << 20,
			GraphiQL:         true,
			BatchConcurrency: 4,
		},
		GraphQL: GraphQL{Introspection: true},
		Log:     logging.Defaults(),
		Metrics: Metrics{Path: "/metrics"},
		OTel:    OTel{Service: "chaingraph"},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	c := Default()
	if err := c.load(path); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Validate reports settings no command can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Guest.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("guest.concurrency must be positive, got %d", c.Guest.Concurrency))
	}
	if c.Server.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("server.batch_concurrency must be positive, got %d", c.Server.BatchConcurrency))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative"))
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// Section binds the flags of one config section onto fs.
type Section func(fs *flag.FlagSet, c *Config)

// Parse builds the config for one command: defaults, then the file named by
// -config in args, then the flags registered by sections.
func Parse(fs *flag.FlagSet, args []string, sections ...Section) (*Config, error) {
	c := Default()
	path := configPath(args)
	if path != "" {
		if err := c.load(path); err != nil {
			return nil, err
		}
	}
	fs.String("config", path, "YAML config file")
	for _, s := range sections {
		s(fs, c)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// configPath finds the -config value before flag parsing so that the file can
// supply the flag defaults.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func ChainFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Chain.Endpoint, "chain.endpoint", c.Chain.Endpoint, "Node websocket endpoint")
	fs.StringVar(&c.Chain.Metadata, "chain.metadata", c.Chain.Metadata, "Metadata snapshot file")
	fs.StringVar(&c.Chain.Types, "chain.types", c.Chain.Types, "Custom type bundle (YAML or JSON)")
	fs.Var(newListFlag(&c.Chain.Blacklist), "chain.blacklist", "Module excluded from the schema. Repeatable")
	fs.Func("chain.ss58-prefix", "SS58 address prefix", func(v string) error {
		var p uint8
		if _, err := fmt.Sscan(v, &p); err != nil {
			return fmt.Errorf("ss58 prefix %q: %w", v, err)
		}
		c.Chain.SS58Prefix = p
		return nil
	})
	fs.DurationVar(&c.Chain.DialTimeout, "chain.dial-timeout", c.Chain.DialTimeout, "Websocket handshake timeout")
	fs.DurationVar(&c.Chain.HashCacheLife, "chain.hash-cache-life", c.Chain.HashCacheLife, "Block hash cache lifetime")
}

func GuestFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Guest.Module, "guest.module", c.Guest.Module, "Compiled query module (.wasm)")
	fs.DurationVar(&c.Guest.Timeout, "guest.timeout", c.Guest.Timeout, "Per-execution timeout")
	fs.IntVar(&c.Guest.Concurrency, "guest.concurrency", c.Guest.Concurrency, "Guest executions started per batch")
}

func ServerFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Server.Addr, "server.addr", c.Server.Addr, "HTTP listen address")
	fs.BoolVar(&c.Server.Pretty, "server.pretty", c.Server.Pretty, "Pretty-print JSON responses")
	fs.DurationVar(&c.Server.Timeout, "server.timeout", c.Server.Timeout, "Per-request timeout")
	fs.Int64Var(&c.Server.MaxBodyBytes, "server.max-body-bytes", c.Server.MaxBodyBytes, "Request body limit")
	fs.Var(newListFlag(&c.Server.CORSOrigins), "server.cors-origin", "Allowed CORS origin. Repeatable")
	fs.BoolVar(&c.Server.GraphiQL, "server.graphiql", c.Server.GraphiQL, "Serve GraphiQL on GET without a query")
	fs.IntVar(&c.Server.BatchConcurrency, "server.batch-concurrency", c.Server.BatchConcurrency, "Operations of one batch executed at once")
	fs.BoolVar(&c.GraphQL.Introspection, "graphql.introspection", c.GraphQL.Introspection, "Enable GraphQL introspection")
	fs.StringVar(&c.Metrics.Path, "metrics.path", c.Metrics.Path, "Prometheus metrics path, empty disables")
	fs.StringVar(&c.OTel.Endpoint, "otel.endpoint", c.OTel.Endpoint, "OTLP collector endpoint")
	fs.StringVar(&c.OTel.Service, "otel.service", c.OTel.Service, "OpenTelemetry service name")
}

func LogFlags(fs *flag.FlagSet, c *Config) {
	fs.StringVar(&c.Log.Level, "log.level", c.Log.Level, "debug, info, warn or error")
	fs.StringVar(&c.Log.Format, "log.format", c.Log.Format, "console or json")
	fs.StringVar(&c.Log.File, "log.file", c.Log.File, "Rotated log file")
}

// listFlag replaces the configured list on first use and appends after that.
type listFlag struct {
	dst *[]string
	set bool
}

func newListFlag(dst *[]string) *listFlag { return &listFlag{dst: dst} }

func (l *listFlag) String() string {
	if l == nil || l.dst == nil {
		return ""
	}
	return strings.Join(*l.dst, ",")
}

func (l *listFlag) Set(v string) error {
	if !l.set {
		*l.dst = nil
		l.set = true
	}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l.dst = append(*l.dst, part)
		}
	}
	return nil
}
