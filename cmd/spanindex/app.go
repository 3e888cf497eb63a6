package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/cache/disk"
	"github.com/meigma/spanindex/metrics"
	"github.com/meigma/spanindex/seek"
	"github.com/meigma/spanindex/source"
	"github.com/meigma/spanindex/source/s3"
)

const envPrefix = "SPANINDEX"

// app holds the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	index  *spanindex.Index

	progressMu sync.Mutex
}

func newApp(stdout, stderr io.Writer) *app {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return &app{v: v, stdout: stdout, stderr: stderr}
}

// opt is a persistent flag bound to a viper key of the same name.
type opt struct {
	name  string
	value any
	usage string
}

var rootOpts = []opt{
	{"config", "", "YAML config file"},
	{"table", "lookup.csv", "lookup table path"},
	{"seek-dir", "", "directory for seek index sidecars"},
	{"interval", humanize.IBytes(uint64(seek.DefaultInterval)), "decompressed distance between seek checkpoints"},
	{"concurrency", 4, "files built or searched at once"},
	{"cache-dir", "", "block cache directory for remote files"},
	{"cache-max-bytes", "", "block cache size limit (e.g. 10GiB)"},
	{"metrics-file", "", "write Prometheus metrics to this file on exit"},
	{"file", []string{}, "extra file as id=path (repeatable)"},
	{"progress", false, "report build progress on stderr"},
	{"verbose", false, "enable debug logging"},
	{"log-format", "text", "log format: text or json"},
	{"s3.endpoint", "", "S3 endpoint (host:port)"},
	{"s3.region", "", "S3 region"},
	{"s3.access-key", "", "S3 access key (defaults to AWS_* env)"},
	{"s3.secret-key", "", "S3 secret key"},
	{"s3.insecure", false, "use plain HTTP for S3"},
	{"s3.path-style", false, "use path-style S3 requests"},
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "spanindex",
		Short:         "Random-access lookups over sorted compressed CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	a.bindOptions(cmd, rootOpts)

	cmd.AddCommand(
		a.buildCommand(),
		a.lookupCommand(),
		a.filterCommand(),
		a.verifyCommand(),
		a.packCommand(),
	)
	return cmd
}

func (a *app) bindOptions(cmd *cobra.Command, opts []opt) {
	flags := cmd.PersistentFlags()
	for _, o := range opts {
		switch d := o.value.(type) {
		case string:
			flags.String(o.name, d, o.usage)
		case int:
			flags.Int(o.name, d, o.usage)
		case bool:
			flags.Bool(o.name, d, o.usage)
		case []string:
			flags.StringSlice(o.name, d, o.usage)
		default:
			panic(fmt.Errorf("unsupported option type %T for %s", o.value, o.name))
		}
		if err := a.v.BindPFlag(o.name, flags.Lookup(o.name)); err != nil {
			panic(err)
		}
	}
}

// setup reads the config file and configures logging.
func (a *app) setup() error {
	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := slog.LevelInfo
	if a.v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch format := a.v.GetString("log-format"); format {
	case "text":
		a.logger = slog.New(slog.NewTextHandler(a.stderr, hopts))
	case "json":
		a.logger = slog.New(slog.NewJSONHandler(a.stderr, hopts))
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// registry builds the registry from the config file and --file flags.
func (a *app) registry() (*spanindex.Registry, error) {
	var specs []spanindex.FileSpec
	if err := a.v.UnmarshalKey("files", &specs); err != nil {
		return nil, fmt.Errorf("config files: %w", err)
	}
	for _, f := range a.v.GetStringSlice("file") {
		id, path, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --file %q: want id=path", f)
		}
		specs = append(specs, spanindex.FileSpec{ID: id, Path: path})
	}
	return spanindex.NewRegistry(specs...)
}

// openIndex opens the index described by the configuration.
func (a *app) openIndex() (*spanindex.Index, error) {
	if a.index != nil {
		return a.index, nil
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	interval, err := parseSize("interval", a.v.GetString("interval"))
	if err != nil {
		return nil, err
	}

	opts := []spanindex.Option{
		spanindex.WithLogger(a.logger),
		spanindex.WithInterval(interval),
		spanindex.WithBuildConcurrency(a.v.GetInt("concurrency")),
		spanindex.WithSourceOptions(source.Options{S3: s3.Config{
			Endpoint:  a.v.GetString("s3.endpoint"),
			Region:    a.v.GetString("s3.region"),
			AccessKey: a.v.GetString("s3.access-key"),
			SecretKey: a.v.GetString("s3.secret-key"),
			Insecure:  a.v.GetBool("s3.insecure"),
			PathStyle: a.v.GetBool("s3.path-style"),
		}}),
	}
	if a.v.GetBool("progress") {
		opts = append(opts, spanindex.WithProgress(a.printProgress))
	}
	if dir := a.v.GetString("seek-dir"); dir != "" {
		opts = append(opts, spanindex.WithSeekDir(dir))
	}
	if dir := a.v.GetString("cache-dir"); dir != "" {
		var maxBytes int64
		if s := a.v.GetString("cache-max-bytes"); s != "" {
			if maxBytes, err = parseSize("cache-max-bytes", s); err != nil {
				return nil, err
			}
		}
		blocks, err := disk.New(dir, disk.WithMaxBytes(maxBytes), disk.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("block cache: %w", err)
		}
		opts = append(opts, spanindex.WithBlockCache(blocks))
	}

	x, err := spanindex.Open(reg, a.v.GetString("table"), opts...)
	if err != nil {
		return nil, err
	}
	a.index = x
	return x, nil
}

func (a *app) printProgress(ev spanindex.ProgressEvent) {
	a.progressMu.Lock()
	defer a.progressMu.Unlock()
	switch ev.Stage {
	case spanindex.StageDone:
		fmt.Fprintf(a.stderr, "[%d/%d] %s: %s %s\n", ev.FilesDone, ev.FilesTotal, ev.FileID, ev.Stage, humanize.IBytes(uint64(ev.BytesDone)))
	default:
		fmt.Fprintf(a.stderr, "%s: %s %s\n", ev.FileID, ev.Stage, humanize.IBytes(uint64(ev.BytesDone)))
	}
}

// close writes metrics if requested and closes the index.
func (a *app) close() error {
	if a.index == nil {
		return nil
	}
	var err error
	if path := a.v.GetString("metrics-file"); path != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(a.index))
		if werr := prometheus.WriteToTextfile(path, reg); werr != nil {
			err = fmt.Errorf("write metrics: %w", werr)
		}
	}
	if cerr := a.index.Close(); err == nil {
		err = cerr
	}
	a.index = nil
	return err
}

func parseSize(name, s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("invalid %s %q: too large", name, s)
	}
	return int64(n), nil
}
