// Package main provides the CLI entry point for the terminal agent.
//
// config.go resolves the configuration file path the "run" command loads.
package main

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultConfigName = "wayfarer.yaml"

// defaultConfigPath is the fallback when neither --config nor
// WAYFARER_CONFIG names a file: $WAYFARER_SESSION_ROOT/wayfarer.yaml, or
// ./wayfarer.yaml if that env var is unset.
func defaultConfigPath() string {
	if root := strings.TrimSpace(os.Getenv("WAYFARER_SESSION_ROOT")); root != "" {
		return filepath.Join(root, defaultConfigName)
	}
	return defaultConfigName
}

// resolveConfigPath determines the configuration file path: an explicit
// --config flag wins, then WAYFARER_CONFIG, then defaultConfigPath.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigName {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("WAYFARER_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath()
}
