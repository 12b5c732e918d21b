package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/onair/internal/models"
	"github.com/desertthunder/onair/internal/shared"
	"github.com/desertthunder/onair/internal/ui"
)

// adminResult is the body returned by every /admin action.
type adminResult struct {
	Accepted bool         `json:"accepted"`
	Action   string       `json:"action"`
	State    models.State `json:"state"`
}

func (r *Runner) serverURL(cmd *cli.Command) string {
	if u := cmd.String("url"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://" + r.config.Server.Addr()
}

// call sends a request to a running server and decodes a 2xx JSON response into out.
func (r *Runner) call(ctx context.Context, method, url string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d: %s",
			shared.ErrAPIRequest, method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Status prints the running engine's snapshot.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	url := r.serverURL(cmd) + "/status"

	if cmd.Bool("json") {
		var raw json.RawMessage
		if err := r.call(ctx, http.MethodGet, url, nil, &raw); err != nil {
			return err
		}
		return r.writeJSON(raw, cmd.Bool("pretty"))
	}

	var snapshot models.Snapshot
	if err := r.call(ctx, http.MethodGet, url, nil, &snapshot); err != nil {
		return err
	}
	return r.writePlain("%s\n", ui.RenderStatus(snapshot))
}

// Admin returns the action for one /admin endpoint.
func (r *Runner) Admin(action string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		var body any
		if action == "pause" && cmd.String("reason") != "" {
			body = map[string]string{"reason": cmd.String("reason")}
		}

		var result adminResult
		if err := r.call(ctx, http.MethodPost, r.serverURL(cmd)+"/admin/"+action, body, &result); err != nil {
			return err
		}

		r.logger.Debug("admin action accepted", "action", result.Action, "state", result.State)
		return r.writePlain("✓ %s accepted (state: %s)\n", result.Action, result.State)
	}
}
