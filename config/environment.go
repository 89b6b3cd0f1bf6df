package config

import (
	"os"
	"strings"
)

const appEnvVar = "APP_ENV"

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentTest        = "test"
)

var environmentAliases = map[string]string{
	"dev":   EnvironmentDevelopment,
	"local": EnvironmentDevelopment,
	"prod":  EnvironmentProduction,
	"stag":  EnvironmentStaging,
	"stage": EnvironmentStaging,
	"ci":    EnvironmentTest,
}

// AppEnvironment returns APP_ENV normalised through the alias table,
// defaulting to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// resolveEnvSpecificPath swaps the default config path for the file mapped
// to the current environment. Explicit non-default paths are kept.
func resolveEnvSpecificPath(path, defaultPath string, envPaths map[string]string) string {
	if path == "" {
		path = defaultPath
	}
	if envPath, ok := envPaths[AppEnvironment()]; ok && (path == defaultPath || path == envPath) {
		return envPath
	}
	return path
}

// IsProductionLike reports whether env should fail hard on soft problems,
// such as a download batch where some tickers failed.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}
