package plugin

import (
	"os/exec"

	"github.com/natefinch/lumberjack"

	"orchestrator/internal/config"
	"orchestrator/internal/model"
)

// pluginRecord is the Supervisor's mutable, internal view of one plugin.
// It is mutated only by the Supervisor's own code path, always under
// Supervisor.mu (§5).
type pluginRecord struct {
	entry config.PluginEntry

	url          string
	state        model.PluginState
	info         model.PluginInfo
	restartCount int

	cmd     *exec.Cmd
	exited  chan struct{}
	logFile *lumberjack.Logger
}

// Status is the stable, defensive-copy snapshot external code reads.
type Status struct {
	Name         string            `json:"name"`
	URL          string            `json:"url,omitempty"`
	State        model.PluginState `json:"state"`
	Info         model.PluginInfo  `json:"info"`
	RestartCount int               `json:"restart_count"`
}

func (r *pluginRecord) snapshot(name string) Status {
	return Status{
		Name:         name,
		URL:          r.url,
		State:        r.state,
		Info:         r.info,
		RestartCount: r.restartCount,
	}
}

// alive reports whether the record's process is known to be running. A
// record that never started, or whose exited channel has fired, is not
// alive.
func (r *pluginRecord) alive() bool {
	if r.exited == nil {
		return false
	}
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}
