package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/carrica/config"
	"github.com/wippyai/carrica/errors"
	"github.com/wippyai/carrica/loader"
	"github.com/wippyai/carrica/module"
	"github.com/wippyai/carrica/runtime"
	"github.com/wippyai/carrica/wasmmod"
)

// Exit codes for guest failures.
const (
	exitCompile = 65
	exitRuntime = 70
)

type options struct {
	configPath  string
	eval        string
	module      string
	root        string
	debug       bool
	schema      bool
	interactive bool
	files       []string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Config file (toml, yaml or json)")
	flag.StringVar(&o.eval, "e", "", "Code to run before any script")
	flag.StringVar(&o.module, "module", "", "Module scripts run in (default from config)")
	flag.StringVar(&o.root, "root", "", "Directory imports are loaded from (default: the script's directory)")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug output")
	flag.BoolVar(&o.schema, "schema", false, "Print the config JSON schema and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive shell")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: carrica [flags] [script ...]")
		fmt.Fprintln(os.Stderr, "       carrica -e 'System.print(1 + 2)'")
		fmt.Fprintln(os.Stderr, "       carrica -i  (interactive shell)")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()
	o.files = flag.Args()

	if err := run(context.Background(), o, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.IsKind(err, errors.KindCompile):
			os.Exit(exitCompile)
		case errors.IsKind(err, errors.KindGuestRuntime):
			os.Exit(exitRuntime)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdin io.Reader, stdout io.Writer) error {
	if o.schema {
		data, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}

	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return err
		}
	}
	if o.debug {
		cfg.Debug = true
	}
	if o.root != "" {
		cfg.LoaderPreset = config.PresetFilesystem
		cfg.LoaderRoot = o.root
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	module.SetLogger(log)
	wasmmod.SetLogger(log)

	rt, err := runtime.New(ctx,
		runtime.WithConfig(cfg),
		runtime.WithLogger(log),
		runtime.WithStdout(stdout))
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	if o.interactive || (o.eval == "" && len(o.files) == 0 && isTerminal(stdin)) {
		return runInteractive(rt)
	}

	vm, err := rt.NewVM(cfg.DefaultModule)
	if err != nil {
		return err
	}
	defer vm.Release()

	if o.eval != "" {
		if err := vm.Interpret(o.eval, o.module); err != nil {
			return err
		}
	}

	for _, file := range o.files {
		src, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		if cfg.LoaderPreset == "" {
			if err := vm.SetLoadFunction(loader.Filesystem(filepath.Dir(file), cfg.LoaderExt)); err != nil {
				return err
			}
		}
		if err := vm.Interpret(string(src), o.module); err != nil {
			return err
		}
	}

	if o.eval == "" && len(o.files) == 0 {
		src, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return vm.Interpret(string(src), o.module)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
