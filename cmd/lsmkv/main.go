// Command lsmkv is a thin CLI harness over the lsmkv engine: open an
// instance from flags or a config file, then run one of put/get/delete/
// compact against it. It exists to satisfy the "CLI/test harness" external
// collaborator named in spec.md §1 — the engine itself is a library.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/flashkv/lsmkv"
	"github.com/flashkv/lsmkv/internal/config"
	"github.com/flashkv/lsmkv/internal/kvlog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "lsmkv:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lsmkv put|get|delete|compact [flags] [key] [value]")
	}
	cmd, rest := args[0], args[1:]

	fs := pflag.NewFlagSet("lsmkv", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSONC config file")

	cfg := config.Default()
	config.BindFlags(fs, &cfg)

	if err := fs.Parse(rest); err != nil {
		return err
	}

	if *configPath != "" {
		fileCfg, err := config.LoadFile(*configPath)
		if err != nil {
			return err
		}
		cfg = fileCfg
		// Flags explicitly set on the command line still win over the file.
		// A fresh flag set is needed: pflag panics on a redefined flag name.
		fs = pflag.NewFlagSet("lsmkv", pflag.ContinueOnError)
		fs.String("config", "", "path to a JSONC config file")
		config.BindFlags(fs, &cfg)
		if err := fs.Parse(rest); err != nil {
			return err
		}
	}

	logger, err := kvlog.Development()
	if err != nil {
		return err
	}

	engine, err := lsmkv.New(cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	engine.WithLogger(logger)
	defer engine.Close()

	positional := fs.Args()

	switch cmd {
	case "put":
		if len(positional) != 2 {
			return fmt.Errorf("usage: lsmkv put <key> <value>")
		}
		return engine.Put(positional[0], []byte(positional[1]))

	case "delete":
		if len(positional) != 1 {
			return fmt.Errorf("usage: lsmkv delete <key>")
		}
		return engine.Delete(positional[0])

	case "get":
		if len(positional) != 1 {
			return fmt.Errorf("usage: lsmkv get <key>")
		}
		value, err := engine.Get(positional[0])
		if err != nil {
			return err
		}
		if value == nil {
			fmt.Println("(nil)")
			return nil
		}
		fmt.Println(string(value))
		return nil

	case "compact":
		return engine.LaunchCompaction()

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
