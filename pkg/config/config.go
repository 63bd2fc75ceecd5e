// Seenstore uses flags and a single config file for configuration.
// The config file is a flat YAML mapping from flag names to values; every key must name a defined flag, so the
// file can never configure anything the flags can't.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

var configFilePath = flag.String("config_file", "", "Path to the optional YAML configuration file.")

// applyConfigFile parses the YAML file at `path` and sets the flags it names.
func applyConfigFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	values := make(map[ /*flagName*/ string] /*flagValue*/ string)
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for name, value := range values {
		if flag.Lookup(name) == nil {
			return fmt.Errorf("config file sets undefined flag '%s'", name)
		}
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", name, err)
		}
	}
	return nil
}

// InitFlags initializes the flags from the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}
	if err := applyConfigFile(*configFilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
			return
		}
		slog.Error("Failed to apply config file.", "error", err)
	}
}
