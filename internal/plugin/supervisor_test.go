package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/internal/config"
	"orchestrator/internal/model"
	"orchestrator/internal/registry"
)

// TestMain re-executes the test binary itself as a fake plugin process when
// GO_WANT_HELPER_PROCESS is set, the standard os/exec testing idiom. This
// lets the Supervisor tests spawn a real child process and talk real HTTP
// to it without needing a separately built plugin binary.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runFakePlugin()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFakePlugin() {
	port := ""
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "--port=") {
			port = strings.TrimPrefix(arg, "--port=")
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "api_version": 1, "plugin_version": "fake"})
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"api_version":    1,
			"plugin_version": "fake",
			"analyses":       []interface{}{map[string]interface{}{"name": "Nash", "description": "test"}},
			"formats":        []interface{}{".gbt"},
		})
	})
	_ = http.ListenAndServe("127.0.0.1:"+port, mux)
}

func helperEntry(name string, autoStart bool, restart model.RestartPolicy) config.PluginEntry {
	return config.PluginEntry{
		Name:      name,
		Command:   []string{os.Args[0]},
		AutoStart: autoStart,
		Restart:   restart,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		PluginStartupTimeout: 2 * time.Second,
		PluginHealthInitial:  5 * time.Millisecond,
		PluginHealthMax:      20 * time.Millisecond,
		PluginHealthFactor:   1.5,
		PluginHealthTimeout:  500 * time.Millisecond,
		PluginInfoTimeout:    500 * time.Millisecond,
		PluginMaxPortRetries: 2,
	}
}

func withHelperProcessEnv(t *testing.T) {
	t.Helper()
	require.NoError(t, os.Setenv("GO_WANT_HELPER_PROCESS", "1"))
	t.Cleanup(func() { os.Unsetenv("GO_WANT_HELPER_PROCESS") })
}

func TestStartAllBringsUpAutoStartPluginsAndRegistersCapabilities(t *testing.T) {
	withHelperProcessEnv(t)
	reg := registry.New()
	sup := New(testConfig(), config.PluginSettings{MaxRestarts: 3}, []config.PluginEntry{
		helperEntry("nash", true, model.RestartOnFailure),
		helperEntry("unused", false, model.RestartNever),
	}, reg)
	defer sup.StopAll()

	results := sup.StartAll(context.Background())
	assert.Equal(t, map[string]bool{"nash": true}, results, "only auto_start plugins are attempted")

	status, ok := sup.Status("nash")
	require.True(t, ok)
	assert.Equal(t, model.PluginHealthy, status.State)
	assert.NotEmpty(t, status.URL)

	_, _, found := reg.Analysis("Nash")
	assert.True(t, found, "a healthy plugin's capabilities must be registered")
}

func TestStopAllMarksPluginsStopped(t *testing.T) {
	withHelperProcessEnv(t)
	reg := registry.New()
	sup := New(testConfig(), config.PluginSettings{MaxRestarts: 3}, []config.PluginEntry{
		helperEntry("nash", true, model.RestartNever),
	}, reg)

	sup.StartAll(context.Background())
	sup.StopAll()

	status, ok := sup.Status("nash")
	require.True(t, ok)
	assert.Equal(t, model.PluginStopped, status.State)
}

func TestCheckAndRestartMarksDeadUnderNeverPolicy(t *testing.T) {
	reg := registry.New()
	sup := New(testConfig(), config.PluginSettings{MaxRestarts: 3}, []config.PluginEntry{
		helperEntry("ghost", false, model.RestartNever),
	}, reg)

	actions, err := sup.CheckAndRestart(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "dead", actions["ghost"])

	status, ok := sup.Status("ghost")
	require.True(t, ok)
	assert.Equal(t, model.PluginDead, status.State)
}

func TestCheckAndRestartSkipsAlreadyStoppedPlugin(t *testing.T) {
	withHelperProcessEnv(t)
	reg := registry.New()
	sup := New(testConfig(), config.PluginSettings{MaxRestarts: 3}, []config.PluginEntry{
		helperEntry("nash", true, model.RestartAlways),
	}, reg)
	sup.StartAll(context.Background())
	sup.StopAll()

	actions, err := sup.CheckAndRestart(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "skipped", actions["nash"])
}
