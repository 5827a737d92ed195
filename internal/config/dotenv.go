package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotEnv loads KEY=value pairs from a local .env file into the process
// environment. Variables already set in the environment win, so deployed
// instances are unaffected by a stray file. Supports comments, blank lines
// and an optional "export " prefix so the same file can be sourced by a
// shell.
func LoadDotEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err // missing file is normal outside local dev
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}
