package reservation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/fullvlad/lava-server/pkg/model"
)

// Materialize resolves a job definition for execution: the target device,
// the submit token and submitter on every submit_results action, and the
// health-check flag. Output keys are sorted and indented by four spaces.
func Materialize(job *model.TestJob, secret string) (string, error) {
	data := map[string]any{}
	if strings.TrimSpace(job.Definition) != "" {
		if err := json.Unmarshal([]byte(job.Definition), &data); err != nil {
			return "", fmt.Errorf("parse definition: %w", err)
		}
	}

	if target := job.Target(); target != "" {
		data["target"] = target
	}

	if actions, ok := data["actions"].([]any); ok {
		for i, a := range actions {
			action, ok := a.(map[string]any)
			if !ok {
				continue
			}
			cmd, _ := action["command"].(string)
			if !strings.HasPrefix(cmd, "submit_results") {
				continue
			}
			params, ok := action["parameters"].(map[string]any)
			if !ok {
				params = map[string]any{}
				action["parameters"] = params
			}
			params["token"] = secret
			if server, ok := params["server"].(string); ok {
				rewritten, err := withSubmitter(server, job.Submitter)
				if err != nil {
					return "", fmt.Errorf("action %d: %w", i, err)
				}
				params["server"] = rewritten
			}
		}
	}

	data["health_check"] = job.HealthCheck

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(data); err != nil {
		return "", fmt.Errorf("encode definition: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// withSubmitter replaces the user info of server with username, keeping
// host and port.
func withSubmitter(server, username string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", server, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", server)
	}
	u.User = url.User(username)
	return u.String(), nil
}
