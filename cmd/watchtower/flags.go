package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"lecca.io/mind-watchtower/internal/config"
)

type options struct {
	configPath string
	dataDir    string
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("watchtower", pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to config file (default ~/.mwt/config.yml)")
	dataDir := fs.String("data-dir", "", "path to data directory (default <config dir>/data)")
	logLevel := fs.String("log-level", "", "override logging.level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	configPath, baseDir, err := resolveConfigPath(*configFile)
	if err != nil {
		return options{}, err
	}

	if *dataDir == "" {
		*dataDir = filepath.Join(baseDir, "data")
	}

	return options{
		configPath: configPath,
		dataDir:    *dataDir,
		logLevel:   *logLevel,
	}, nil
}

func resolveConfigPath(configFile string) (string, string, error) {
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	baseDir := filepath.Join(home, ".mwt")
	return filepath.Join(baseDir, "config.yml"), baseDir, nil
}

func ensureDefaultConfig(path string, example []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}

	if len(example) == 0 {
		return false, fmt.Errorf("embedded config.example.yml is empty")
	}

	return true, os.WriteFile(path, example, 0o644)
}

func applyDataDirDefaults(cfg *config.Config, dataDir string) {
	if cfg.Names.Path == "" {
		cfg.Names.Path = filepath.Join(dataDir, "names")
	}
}
