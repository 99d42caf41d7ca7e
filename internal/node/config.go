package node

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupSuffix is appended to the node config path when preserving the
// pristine template shipped with the image.
const BackupSuffix = ".example"

const clusterNamePrefix = "scylladb-cluster"

// Config is the node's main configuration document, keyed exactly as the
// on-disk YAML is.
type Config map[string]any

// Load reads the node config from path. The file must already exist; the
// image build seeds it with a template.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node config %s: %w", path, err)
	}

	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse node config %s: %w", path, err)
	}
	if cfg == nil {
		cfg = Config{}
	}

	return cfg, nil
}

// Save writes the document to path.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal node config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write node config %s: %w", path, err)
	}

	return nil
}

// Backup renames the original file to its .example path and returns the
// backup path.
func Backup(path string) (string, error) {
	backupPath := path + BackupSuffix
	if err := os.Rename(path, backupPath); err != nil {
		return "", fmt.Errorf("failed to preserve node config template: %w", err)
	}
	return backupPath, nil
}

// Defaults returns the built-in node config values applied for every key the
// operator did not override.
func Defaults(privateIP string, now time.Time) map[string]any {
	return map[string]any{
		"cluster_name":          fmt.Sprintf("%s-%d", clusterNamePrefix, now.Unix()),
		"experimental":          false,
		"auto_bootstrap":        false,
		"listen_address":        privateIP,
		"broadcast_rpc_address": privateIP,
		"endpoint_snitch":       "org.apache.cassandra.locator.Ec2Snitch",
		"rpc_address":           "0.0.0.0",
	}
}
