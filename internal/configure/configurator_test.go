package configure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabiome/nodeboot/internal/config"
	"github.com/terabiome/nodeboot/internal/metadata"
	"github.com/terabiome/nodeboot/internal/node"
	"github.com/terabiome/nodeboot/pkg/executor"
	"github.com/terabiome/nodeboot/pkg/logger"
)

const testPrivateIP = "10.0.0.5"

const seedYAML = `cluster_name: template-cluster
experimental: true
num_tokens: 256
`

type testEnv struct {
	configurator *Configurator
	nodePath     string
}

// newTestEnv seeds a node config template and fakes the metadata endpoint.
// userData maps metadata paths to response bodies; paths not present 404.
func newTestEnv(t *testing.T, handlers map[string]string) *testEnv {
	t.Helper()

	nodePath := filepath.Join(t.TempDir(), "scylla.yaml")
	require.NoError(t, os.WriteFile(nodePath, []byte(seedYAML), 0o644))

	mux := http.NewServeMux()
	for path, body := range handlers {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		NodeConfigPath: nodePath,
		MetadataURL:    srv.URL,
		LogLevel:       "error",
		LogFormat:      "text",
	}

	log := logger.New("error", "text", io.Discard)
	runner := executor.NewScriptRunner(executor.NewLocal(log), log)
	configurator := New(cfg, metadata.NewClient(srv.URL, log), runner, log)
	configurator.now = func() time.Time { return time.Unix(1700000000, 0) }

	return &testEnv{
		configurator: configurator,
		nodePath:     nodePath,
	}
}

func userDataJSON(t *testing.T, doc map[string]any) string {
	t.Helper()

	body, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(body)
}

func TestConfigureEmptyUserData(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/":            "",
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	merged, err := node.Load(env.nodePath)
	require.NoError(t, err)

	assert.Equal(t, "scylladb-cluster-1700000000", merged["cluster_name"])
	assert.Regexp(t, `^scylladb-cluster-\d+$`, merged["cluster_name"])
	assert.Equal(t, testPrivateIP, merged["listen_address"])
	assert.Equal(t, testPrivateIP, merged["broadcast_rpc_address"])
	assert.Equal(t, "0.0.0.0", merged["rpc_address"])

	// Defaults win over the template's prior value for default keys.
	assert.Equal(t, false, merged["experimental"])

	// Keys the merge never touches survive unchanged.
	assert.Equal(t, 256, merged["num_tokens"])
}

func TestConfigureOverrideWins(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/": userDataJSON(t, map[string]any{
			"scylla_yaml": map[string]any{
				"cluster_name": "my-cluster",
				"experimental": true,
				"seed_provider": []any{
					map[string]any{"class_name": "SimpleSeedProvider"},
				},
			},
		}),
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	merged, err := node.Load(env.nodePath)
	require.NoError(t, err)

	assert.Equal(t, "my-cluster", merged["cluster_name"])
	assert.Equal(t, true, merged["experimental"])
	assert.Contains(t, merged, "seed_provider")

	// Non-overridden defaults still apply.
	assert.Equal(t, testPrivateIP, merged["listen_address"])
}

func TestConfigurePreservesTemplateBackup(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/":            "",
	})

	original, err := os.ReadFile(env.nodePath)
	require.NoError(t, err)

	require.NoError(t, env.configurator.Configure(context.Background()))

	backup, err := os.ReadFile(env.nodePath + node.BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, original, backup)
}

func TestConfigureMalformedUserData(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/":            "{this is not json",
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	merged, err := node.Load(env.nodePath)
	require.NoError(t, err)
	assert.Equal(t, testPrivateIP, merged["listen_address"])
}

func TestConfigureUserDataEndpointMissing(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	merged, err := node.Load(env.nodePath)
	require.NoError(t, err)
	assert.Regexp(t, `^scylladb-cluster-\d+$`, merged["cluster_name"])
}

func TestConfigureFailsWithoutPrivateIP(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/user-data/": "",
	})

	err := env.configurator.Configure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private IP")
}

func TestConfigureFailsWithoutNodeConfig(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/":            "",
	})
	require.NoError(t, os.Remove(env.nodePath))

	require.Error(t, env.configurator.Configure(context.Background()))
}

func TestPostConfigurationScriptRuns(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "X")
	script := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("touch %s", marker)))

	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/": userDataJSON(t, map[string]any{
			"post_configuration_script": script,
		}),
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	_, err := os.Stat(marker)
	assert.NoError(t, err)
}

func TestPostConfigurationScriptNonZeroExit(t *testing.T) {
	script := base64.StdEncoding.EncodeToString([]byte("exit 84"))

	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/": userDataJSON(t, map[string]any{
			"post_configuration_script": script,
		}),
	})

	err := env.configurator.Configure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post configuration script failed")

	// The merge has already been persisted by the time the script fails.
	_, statErr := os.Stat(env.nodePath + node.BackupSuffix)
	assert.NoError(t, statErr)
}

func TestPostConfigurationScriptTimeout(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "after")
	script := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("sleep 2 && touch %s", marker)))

	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/": userDataJSON(t, map[string]any{
			"post_configuration_script":         script,
			"post_configuration_script_timeout": 1,
		}),
	})

	err := env.configurator.Configure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	// The shell died before the sleep finished, so the side effect after
	// the sleep point never happened.
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPostConfigurationScriptDecodeFailureContinues(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"/meta-data/local-ipv4/": testPrivateIP,
		"/user-data/": userDataJSON(t, map[string]any{
			"post_configuration_script": "%%%not base64%%%",
		}),
	})

	require.NoError(t, env.configurator.Configure(context.Background()))

	merged, err := node.Load(env.nodePath)
	require.NoError(t, err)
	assert.Equal(t, testPrivateIP, merged["listen_address"])
}
