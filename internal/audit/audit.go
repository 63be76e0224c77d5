// Package audit records which configuration a docrag command ran with, so an
// ingestion or an answer can be traced back to the embedding model, chunking
// and store that produced it. Secret values are logged only as "set" or
// "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/docrag-go/internal/config"
)

// secretSuffixes mark an environment variable as a credential.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_SECRET_ACCESS_KEY", "_SESSION_TOKEN"}

// IsSecret reports whether the named variable holds a credential.
func IsSecret(key string) bool {
	for _, suf := range secretSuffixes {
		if strings.HasSuffix(key, suf) {
			return true
		}
	}
	return false
}

// SanitiseKey returns value for ordinary variables and "set"/"unset" for
// secrets. An empty value is always "unset".
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case IsSecret(key):
		return "set"
	default:
		return value
	}
}

// LogCommandStart logs one "audit: command start" record carrying the command
// path, its arguments, the config file it loaded and an "env" group with
// every configurable variable.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, args []string, configPath string) {
	keys := config.EnvKeys()
	env := make([]any, 0, len(keys))
	for _, k := range keys {
		env = append(env, slog.String(k, SanitiseKey(k, os.Getenv(k))))
	}

	cfgFile := "none"
	if configPath != "" {
		cfgFile = shortenHome(configPath)
	}
	shown := make([]string, len(args))
	for i, a := range args {
		shown[i] = shortenHome(a)
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start",
		slog.String("command", command),
		slog.Any("args", shown),
		slog.String("config_file", cfgFile),
		slog.Group("env", env...),
	)
}

// shortenHome writes paths under the user's home directory as ~/...
func shortenHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if rest, ok := strings.CutPrefix(p, home); ok && (rest == "" || rest[0] == os.PathSeparator) {
		return "~" + rest
	}
	return p
}
