package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/invgo"
	"github.com/hupe1980/invgo/internal/config"
	"github.com/hupe1980/invgo/store"
)

// tool carries the state shared by all commands. Before fills it.
type tool struct {
	out    io.Writer
	errOut io.Writer
	cfg    *config.Config
	logger *invgo.Logger
}

func newApp(out, errOut io.Writer) *cli.App {
	t := &tool{out: out, errOut: errOut}
	return &cli.App{
		Name:      "invgo",
		Usage:     "maintain invgo indexes",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format, text or json (overrides the configuration)",
			},
		},
		Before: t.before,
		Commands: []*cli.Command{
			t.checkCommand(),
			t.upgradeCommand(),
			t.statsCommand(),
			t.backupCommand(),
			t.restoreCommand(),
			t.backupsCommand(),
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func (t *tool) before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	t.cfg = cfg

	level := invgo.ParseLevel(cfg.Logging.Level)
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	format := cfg.Logging.Format
	if f := c.String("log-format"); f != "" {
		format = f
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(t.errOut, handlerOpts)
	if format == "json" {
		h = slog.NewJSONHandler(t.errOut, handlerOpts)
	}
	t.logger = invgo.NewLogger(h)
	return nil
}

var dirImplFlag = &cli.StringFlag{
	Name:  "dir-impl",
	Usage: "directory implementation, fs or mmap",
	Value: string(store.KindFS),
}

// openIndexDir opens the existing index directory named by the first
// argument.
func (t *tool) openIndexDir(c *cli.Context) (store.Directory, string, error) {
	path := c.Args().First()
	if path == "" {
		return nil, "", cli.Exit("missing index path", 2)
	}
	if c.NArg() > 1 {
		return nil, "", cli.Exit(fmt.Sprintf("unexpected arguments: %v", c.Args().Tail()), 2)
	}
	kind, err := dirKind(c.String("dir-impl"))
	if err != nil {
		return nil, "", err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if !fi.IsDir() {
		return nil, "", fmt.Errorf("%s is not a directory", path)
	}
	dir, err := store.Open(kind, path)
	if err != nil {
		return nil, "", err
	}
	return dir, path, nil
}

func dirKind(s string) (store.Kind, error) {
	switch k := store.Kind(s); k {
	case store.KindFS, store.KindMMap:
		return k, nil
	default:
		return "", cli.Exit(fmt.Sprintf("unknown directory implementation %q", s), 2)
	}
}

// exitCode maps err to the process exit status: 1 for a failed operation,
// 2 for misuse.
func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	if err != nil {
		return 1
	}
	return 0
}
