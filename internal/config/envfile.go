package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env.local"

func envFilePath() string {
	if p, ok := os.LookupEnv("APP_ENV_FILE"); ok {
		return strings.TrimSpace(p)
	}
	return defaultEnvFile
}

// LoadEnvFile reads KEY=VALUE lines into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
