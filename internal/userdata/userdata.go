package userdata

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultScriptTimeout applies when the operator does not declare one.
const DefaultScriptTimeout = 600 * time.Second

// UserData is the JSON document an operator may pass at instance launch.
// Every key is optional.
type UserData struct {
	// ScyllaYAML holds node-config overrides applied verbatim, values may
	// be scalars, lists or nested mappings.
	ScyllaYAML map[string]any `json:"scylla_yaml"`

	// PostConfigurationScript is a base64-encoded shell script run after
	// the node config has been written.
	PostConfigurationScript string `json:"post_configuration_script"`

	// PostConfigurationScriptTimeout is the script timeout in seconds.
	PostConfigurationScriptTimeout int `json:"post_configuration_script_timeout"`

	// Reserved keys carried by the image defaults; parsed but not acted on.
	ScyllaStartupArgs      []string `json:"scylla_startup_args"`
	DeveloperMode          bool     `json:"developer_mode"`
	StartScyllaAfterConfig bool     `json:"start_scylla_after_config"`
}

// Parse decodes the raw user-data body. An empty body is not an error and
// yields the zero value; malformed JSON is returned as an error so the
// caller can fall back to defaults.
func Parse(raw string) (UserData, error) {
	var ud UserData

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ud, nil
	}

	if err := json.Unmarshal([]byte(raw), &ud); err != nil {
		return UserData{}, fmt.Errorf("failed to parse user data as JSON: %w", err)
	}

	return ud, nil
}

// Script decodes the post-configuration script. No script yields (nil, nil).
func (u UserData) Script() ([]byte, error) {
	if u.PostConfigurationScript == "" {
		return nil, nil
	}

	script, err := base64.StdEncoding.DecodeString(u.PostConfigurationScript)
	if err != nil {
		return nil, fmt.Errorf("failed to decode post configuration script: %w", err)
	}

	return script, nil
}

// ScriptTimeout returns the declared script timeout, or the default when the
// operator did not set one.
func (u UserData) ScriptTimeout() time.Duration {
	if u.PostConfigurationScriptTimeout > 0 {
		return time.Duration(u.PostConfigurationScriptTimeout) * time.Second
	}
	return DefaultScriptTimeout
}
