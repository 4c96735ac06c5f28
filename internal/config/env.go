package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file and sets environment variables.
// Missing files are ignored and existing variables are not overridden.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// readEnvFile returns the key/value pairs in path, or an empty map when
// the file does not exist.
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	return values, nil
}

// writeEnvFile merges updates into the file at path, creating it if needed.
func writeEnvFile(path string, updates map[string]string) error {
	current, err := readEnvFile(path)
	if err != nil {
		return err
	}
	for key, val := range updates {
		current[key] = val
	}
	if err := godotenv.Write(current, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
