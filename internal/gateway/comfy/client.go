package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnavailable covers network failures and vendor 5xx responses.
	ErrUnavailable = errors.New("comfy: gateway unavailable")
	// ErrRejected covers vendor 4xx responses to a submission.
	ErrRejected = errors.New("comfy: gateway rejected request")
)

// State is the vendor-reported lifecycle position of a run.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// RunStatus is the result of polling one run.
type RunStatus struct {
	State       State
	ArtifactURL string
	ErrorReason string
}

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the ComfyDeploy async run API. It performs no retries;
// callers own retry policy.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.comfydeploy.com"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
	}
}

type queueRequest struct {
	DeploymentID string         `json:"deployment_id"`
	Inputs       map[string]any `json:"inputs"`
}

type queueResponse struct {
	RunID string `json:"run_id"`
	Error string `json:"error"`
}

// Submit queues a run for the given deployment and returns the vendor run ID.
func (c *Client) Submit(ctx context.Context, deploymentID string, inputs map[string]any) (string, error) {
	if c.token == "" {
		return "", fmt.Errorf("%w: API key is missing", ErrUnavailable)
	}
	if strings.TrimSpace(deploymentID) == "" {
		return "", fmt.Errorf("%w: deployment id required", ErrRejected)
	}
	body, err := json.Marshal(queueRequest{DeploymentID: deploymentID, Inputs: inputs})
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/api/run/deployment/queue"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	var out queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("%w: http %d", ErrRejected, resp.StatusCode)
		}
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return "", fmt.Errorf("%w: http %d", ErrRejected, resp.StatusCode)
	}
	if out.RunID == "" {
		return "", fmt.Errorf("%w: response missing run_id", ErrRejected)
	}
	return out.RunID, nil
}

type runResponse struct {
	Status  string          `json:"status"`
	Outputs json.RawMessage `json:"outputs"`
	Error   string          `json:"error"`
}

// PollStatus fetches the current state of a run. A run is treated as
// succeeded as soon as an output asset URL is present, regardless of the
// reported status string; the vendor has shipped several output shapes and
// firstArtifactURL searches all known ones.
func (c *Client) PollStatus(ctx context.Context, runID string) (RunStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/run/"+runID, nil)
	if err != nil {
		return RunStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RunStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return RunStatus{}, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RunStatus{}, err
	}

	if url := firstArtifactURL(out.Outputs); url != "" {
		return RunStatus{State: StateSucceeded, ArtifactURL: url}, nil
	}
	switch strings.ToLower(out.Status) {
	case "failed", "error", "timeout", "cancelled":
		reason := out.Error
		if reason == "" {
			reason = "AI generation failed"
		}
		return RunStatus{State: StateFailed, ErrorReason: reason}, nil
	case "success", "succeeded", "completed":
		// Terminal per the vendor but no asset URL found in any known
		// shape; keep polling rather than complete without an artifact.
		return RunStatus{State: StatePending}, nil
	default:
		return RunStatus{State: StatePending}, nil
	}
}

// Download fetches the artifact bytes at the vendor-provided URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: artifact http %d", ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type outputEntry struct {
	Data struct {
		OutputImages []assetRef `json:"output_images"`
		Images       []assetRef `json:"images"`
	} `json:"data"`
}

type assetRef struct {
	URL string `json:"url"`
}

// firstArtifactURL searches the known output shapes: a list of entries with
// data.output_images[].url or data.images[].url, and an object whose values
// are URL strings or arrays of URL strings.
func firstArtifactURL(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var entries []outputEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		for _, entry := range entries {
			if len(entry.Data.OutputImages) > 0 && entry.Data.OutputImages[0].URL != "" {
				return entry.Data.OutputImages[0].URL
			}
			if len(entry.Data.Images) > 0 && entry.Data.Images[0].URL != "" {
				return entry.Data.Images[0].URL
			}
		}
		return ""
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(raw, &object); err != nil {
		return ""
	}
	for _, value := range object {
		var list []string
		if err := json.Unmarshal(value, &list); err == nil && len(list) > 0 {
			if isHTTPURL(list[0]) {
				return list[0]
			}
			continue
		}
		var single string
		if err := json.Unmarshal(value, &single); err == nil && isHTTPURL(single) {
			return single
		}
	}
	return ""
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
