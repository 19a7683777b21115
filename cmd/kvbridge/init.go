package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/google/uuid"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/zerodha/logf"
)

// initLogger initializes logger instance.
func initLogger(ko *koanf.Koanf) logf.Logger {
	opts := logf.Opts{EnableCaller: true}
	if ko.Bool("debug") {
		opts.Level = logf.DebugLevel
		opts.EnableColor = true
	}
	return logf.New(opts)
}

// initConfig loads config to `ko` object. Flag parse errors exit with
// code 2.
func initConfig() (*koanf.Koanf, error) {
	var (
		ko = koanf.New(".")
		f  = flag.NewFlagSet("kvbridge", flag.ContinueOnError)
	)

	f.Usage = func() {
		fmt.Println("usage: kvbridge [flags] [data-dir]")
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.String("config", "", "Path to a config file to load.")
	f.String("host", "0.0.0.0", "Address to listen on.")
	f.Int("port", 10159, "Port to listen on.")
	f.String("database-id", "", "UUID of the database served by this bridge.")
	f.String("access-token", "", "Long-lived token clients authenticate with.")
	f.Int64("ephemeral-token-ttl", 3600000, "Lifetime of issued ephemeral tokens in milliseconds.")
	f.String("resp-addr", "", "Optional address for the RESP diagnostic listener.")
	f.Bool("debug", false, "Enable debug logging.")

	if err := f.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Layered config: file, then environment, then flags.
	if cfgPath, _ := f.GetString("config"); cfgPath != "" {
		if err := ko.Load(file.Provider(cfgPath), toml.Parser()); err != nil {
			return nil, err
		}
	}
	err := ko.Load(env.Provider("KVBRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "KVBRIDGE_")), "__", ".", -1)
	}), nil)
	if err != nil {
		return nil, err
	}
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return nil, err
	}

	if args := f.Args(); len(args) > 0 {
		if err := ko.Load(confmap.Provider(map[string]interface{}{"data-dir": args[0]}, "."), nil); err != nil {
			return nil, err
		}
	}
	if !ko.Exists("data-dir") {
		if err := ko.Load(confmap.Provider(map[string]interface{}{"data-dir": "./kvbridge-data"}, "."), nil); err != nil {
			return nil, err
		}
	}

	return ko, nil
}

// validateConfig checks the required fields before anything starts.
func validateConfig(ko *koanf.Koanf) error {
	if ko.String("database-id") == "" {
		return fmt.Errorf("--database-id is required")
	}
	if _, err := uuid.Parse(ko.String("database-id")); err != nil {
		return fmt.Errorf("--database-id is not a valid UUID: %w", err)
	}
	if ko.String("access-token") == "" {
		return fmt.Errorf("--access-token is required")
	}
	if ko.Int64("ephemeral-token-ttl") <= 0 {
		return fmt.Errorf("--ephemeral-token-ttl must be positive")
	}
	return nil
}
