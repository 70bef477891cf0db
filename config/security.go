package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Security limits for configuration
	maxConfigSize = 1 << 20 // 1MB max config file size
	maxJSONDepth  = 32      // Maximum JSON nesting depth
	maxEnvVarLen  = 4096    // Maximum environment variable value length
	maxPathLen    = 4096    // Maximum file path length
)

// validateConfigPath does basic path validation
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}

	if filepath.IsAbs(path) {
		// Absolute paths must not retain parent references after cleaning
		if strings.Contains(filepath.ToSlash(absPath), "..") {
			return fmt.Errorf("path traversal not allowed: %s", path)
		}
	} else {
		// Relative paths must stay within the working directory
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot get working directory: %w", err)
		}
		relPath, err := filepath.Rel(cwd, absPath)
		if err != nil || strings.HasPrefix(relPath, "..") {
			return fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
		}
	}

	if !strings.HasSuffix(path, ".json") {
		return fmt.Errorf("only JSON config files allowed: %s", path)
	}

	return nil
}

// safeReadFile reads a config file with security validation
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}

	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	return data, nil
}

// safeWriteFile writes a config file with security validation
func safeWriteFile(path string, data []byte) error {
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	if len(data) > maxConfigSize {
		return fmt.Errorf("config data too large: %d bytes > %d", len(data), maxConfigSize)
	}

	// Owner read/write only
	return os.WriteFile(path, data, 0600)
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if value == "" {
		return nil
	}

	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}

	return nil
}

// validateJSONDepth checks JSON depth to prevent DoS attacks
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(data); i++ {
		b := data[i]

		if escaped {
			escaped = false
			continue
		}

		if b == '\\' && inString {
			escaped = true
			continue
		}

		if b == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch b {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return errors.New("malformed JSON: unbalanced brackets")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}

	return nil
}
