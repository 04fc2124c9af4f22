// Package common holds helpers shared by the CLI tools.
package common

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error. Variables already set in the environment
// win over file values. Lines without '=' and lines starting with '#' are
// skipped; surrounding single or double quotes on values are stripped.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = unquote(value)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// PrintCIResult emits a single machine-parseable line plus detail lines,
// for use in non-interactive pipelines.
func PrintCIResult(ok bool, name string, details []string, err error) {
	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	fmt.Printf("%s %s\n", status, name)
	for _, d := range details {
		fmt.Printf("  - %s\n", d)
	}
	if err != nil {
		fmt.Printf("  error: %v\n", err)
	}
}
