package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# Filepond Upload Server Configuration File
#
# Values can be overridden with FILEPOND_* environment variables,
# e.g. FILEPOND_LOGGING_LEVEL=DEBUG or FILEPOND_SERVER_PORT=9000.
`

// sectionComments documents each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json),\noutput (stdout, stderr or a file path)",
	"server":  "HTTP endpoint. default_plugin serves paths without a plugin segment.\nrate_limit.requests_per_second 0 disables per-client limiting.",
	"staging": "Staging area for transfers in progress. min_free_bytes 0 disables\nthe free space check.",
	"fetch":   "Remote fetches (?fetch=<url>). max_size 0 means unlimited.",
	"plugins": "Plugins, selected by the first request path segment.\nTypes: noop, library",
	"content": "Destination store for finished library uploads.\nTypes: filesystem, memory, s3",
	"catalog": "Document catalog for library uploads.\nTypes: memory, badger, leveldb, redis",
	"gc":      "Removal of transfers untouched for max_age.",
	"metrics": "Prometheus metrics endpoint.",
}

// InitConfig writes a sample configuration file to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is a mapping node: keys at even indexes, values at odd ones
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.String(), nil
}
