// Package credential resolves the BLS registration key.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/econwatch/internal/logger"
)

// ErrNoAPIKey is returned when no API key could be found in any source.
var ErrNoAPIKey = errors.New("BLS API key not available")

// Source describes where to look for the key
type Source struct {
	EnvFile string // Optional dotenv file loaded before reading EnvVar
	EnvVar  string
	File    string
}

// GetAPIKey returns the key from the environment variable if set, otherwise
// the trimmed contents of the key file.
func GetAPIKey(src Source) (string, error) {
	if src.EnvFile != "" {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(src.EnvFile); err != nil {
			logger.Debug("No env file loaded from %s: %v", src.EnvFile, err)
		}
	}

	if src.EnvVar != "" {
		if key := strings.TrimSpace(os.Getenv(src.EnvVar)); key != "" {
			logger.Debug("Using API key from environment variable %s", src.EnvVar)
			return key, nil
		}
	}

	if src.File == "" {
		return "", ErrNoAPIKey
	}

	data, err := os.ReadFile(src.File)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: key file %s not found and %s is unset", ErrNoAPIKey, src.File, src.EnvVar)
		}
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%w: key file %s is empty", ErrNoAPIKey, src.File)
	}
	return key, nil
}
