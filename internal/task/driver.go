package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orchestrator/internal/cancel"
	apierrors "orchestrator/internal/errors"
	"orchestrator/internal/model"
	"orchestrator/internal/remoteclient"
)

// DriverConfig bundles the timeouts and polling cadence a remote run_fn
// uses (§4.I defaults live in package config; this struct just carries the
// resolved values).
type DriverConfig struct {
	SubmitTimeout      time.Duration
	PollInitial        time.Duration
	PollMax            time.Duration
	PollFactor         float64
	PollRequestTimeout time.Duration
}

// NewRemoteRunFunc builds a RunFunc that drives one remote analysis to
// completion against pluginURL (§4.G). It never panics and never returns an
// error from the worker's perspective: every outcome, including a
// transport failure, is encoded into the returned TaskResult.
func NewRemoteRunFunc(pluginURL, analysisName string, artifact model.Artifact, descriptor model.AnalysisDescriptor, cfg DriverConfig) RunFunc {
	return func(config map[string]interface{}) model.TaskResult {
		clean, tok := stripInternalKeys(config)

		if !descriptor.Continuous && len(descriptor.ConfigSchema) > 0 {
			if err := validateConfigSchema(clean, descriptor.ConfigSchema); err != nil {
				return invalidConfigResult(err)
			}
		}

		client := remoteclient.New(pluginURL, analysisName)
		body := remoteclient.JSON{
			"analysis": analysisName,
			"game":     artifact.AsWire(),
			"config":   clean,
		}

		submitted, err := client.POST(context.Background(), "/analyze", body, cfg.SubmitTimeout)
		if err != nil {
			return submitErrorResult(err)
		}

		taskID, _ := submitted["task_id"].(string)
		if taskID == "" {
			return invalidResponseResult("plugin did not return a task_id")
		}

		polled, err := client.PollUntilComplete(context.Background(), taskID, tok,
			cfg.PollInitial, cfg.PollMax, cfg.PollFactor, cfg.PollRequestTimeout)
		if err != nil {
			return pollFailedResult(err)
		}

		return resultFromPolled(polled)
	}
}

// stripInternalKeys removes keys beginning with "_" (reserved for
// transport-only concerns, §4.G step 1) and extracts the cancel token
// carried in "_cancel_token".
func stripInternalKeys(config map[string]interface{}) (map[string]interface{}, *cancel.Token) {
	clean := make(map[string]interface{}, len(config))
	var tok *cancel.Token
	for k, v := range config {
		if strings.HasPrefix(k, "_") {
			if k == "_cancel_token" {
				if t, ok := v.(*cancel.Token); ok {
					tok = t
				}
			}
			continue
		}
		clean[k] = v
	}
	return clean, tok
}

func resultFromPolled(polled remoteclient.JSON) model.TaskResult {
	status, _ := polled["status"].(string)
	switch model.TaskStatus(status) {
	case model.TaskCompleted:
		return completedResult(polled)
	case model.TaskCancelled:
		return model.TaskResult{Summary: "Cancelled", Details: map[string]interface{}{"cancelled": true}}
	case model.TaskFailed:
		return failedResult(polled)
	default:
		return invalidResponseResult(fmt.Sprintf("unexpected remote task status %q", status))
	}
}

func completedResult(polled remoteclient.JSON) model.TaskResult {
	summary := "Analysis complete"
	var details map[string]interface{}
	if result, ok := polled["result"].(map[string]interface{}); ok {
		if s, ok := result["summary"].(string); ok && s != "" {
			summary = s
		}
		if d, ok := result["details"].(map[string]interface{}); ok {
			details = d
		}
	}
	return model.TaskResult{Summary: summary, Details: details}
}

func failedResult(polled remoteclient.JSON) model.TaskResult {
	errObj, _ := polled["error"].(map[string]interface{})
	message := "unknown error"
	if errObj != nil {
		if m, ok := errObj["message"].(string); ok && m != "" {
			message = m
		}
	}
	return model.TaskResult{
		Summary: "Error: " + message,
		Details: map[string]interface{}{"error": errObj},
	}
}

// submitErrorResult encodes a POST /analyze failure (§4.G step 2). A plugin
// that genuinely can't be reached gets the "plugin unreachable" context
// string; any other error — including a typed HTTP rejection like a 400
// UNSUPPORTED_ANALYSIS, which means the plugin is up and simply refused the
// request — gets its own message verbatim, uncontextualized, so the two
// failure modes stay distinguishable in the summary.
func submitErrorResult(err error) model.TaskResult {
	appErr, ok := err.(*apierrors.AppError)
	if !ok {
		return model.TaskResult{
			Summary: fmt.Sprintf("Error: %s", err.Error()),
			Details: map[string]interface{}{
				"error": map[string]interface{}{"code": apierrors.CodeRequestError, "message": err.Error()},
			},
		}
	}

	summary := fmt.Sprintf("Error: %s", appErr.Message)
	if appErr.Code == apierrors.CodeUnreachable {
		summary = fmt.Sprintf("Error: plugin unreachable (%s)", appErr.Message)
	}
	return model.TaskResult{
		Summary: summary,
		Details: map[string]interface{}{
			"error": map[string]interface{}{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			},
		},
	}
}

func pollFailedResult(err error) model.TaskResult {
	return model.TaskResult{
		Summary: fmt.Sprintf("Error: lost connection while polling (%s)", err.Error()),
		Details: map[string]interface{}{
			"error": map[string]interface{}{"code": apierrors.CodePollFailed, "message": err.Error()},
		},
	}
}

func invalidResponseResult(message string) model.TaskResult {
	return model.TaskResult{
		Summary: "Error: " + message,
		Details: map[string]interface{}{
			"error": map[string]interface{}{"code": apierrors.CodeRequestError, "message": message},
		},
	}
}

func invalidConfigResult(err error) model.TaskResult {
	return model.TaskResult{
		Summary: fmt.Sprintf("Error: invalid config (%s)", err.Error()),
		Details: map[string]interface{}{
			"error": map[string]interface{}{"code": apierrors.CodeInvalidConfig, "message": err.Error()},
		},
	}
}
