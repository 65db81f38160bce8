package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSubmit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if r.URL.Path != "/api/run/deployment/queue" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var payload queueRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if payload.DeploymentID != "dep-1" {
			t.Fatalf("unexpected deployment id: %s", payload.DeploymentID)
		}
		if payload.Inputs["input_text"] != "a red chair" {
			t.Fatalf("inputs not forwarded: %+v", payload.Inputs)
		}
		_ = json.NewEncoder(w).Encode(queueResponse{RunID: "run-42"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	runID, err := client.Submit(context.Background(), "dep-1", map[string]any{"input_text": "a red chair"})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if runID != "run-42" {
		t.Fatalf("unexpected run id: %s", runID)
	}
}

func TestClientSubmitMissingKey(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Submit(context.Background(), "dep-1", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientSubmitRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(queueResponse{Error: "unknown deployment"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	if _, err := client.Submit(context.Background(), "dep-x", nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestClientSubmitServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	if _, err := client.Submit(context.Background(), "dep-1", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClientPollStatusPending(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/run/run-42" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "running"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StatePending {
		t.Fatalf("unexpected state: %s", status.State)
	}
}

func TestClientPollStatusSucceededNestedShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "running",
			"outputs": []map[string]any{
				{"data": map[string]any{"output_images": []map[string]string{{"url": "https://cdn.example.com/out.png"}}}},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StateSucceeded {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if status.ArtifactURL != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected artifact url: %s", status.ArtifactURL)
	}
}

func TestClientPollStatusSucceededImagesShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outputs": []map[string]any{
				{"data": map[string]any{"images": []map[string]string{{"url": "https://cdn.example.com/alt.png"}}}},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StateSucceeded || status.ArtifactURL != "https://cdn.example.com/alt.png" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientPollStatusSucceededObjectShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "success",
			"outputs": map[string]any{"result": []string{"https://cdn.example.com/map.png"}},
		})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StateSucceeded || status.ArtifactURL != "https://cdn.example.com/map.png" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestClientPollStatusFailed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "failed", "error": "NSFW content detected"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StateFailed {
		t.Fatalf("unexpected state: %s", status.State)
	}
	if status.ErrorReason != "NSFW content detected" {
		t.Fatalf("unexpected reason: %s", status.ErrorReason)
	}
}

func TestClientPollStatusSuccessWithoutAssetStaysPending(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	status, err := client.PollStatus(context.Background(), "run-42")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.State != StatePending {
		t.Fatalf("unexpected state: %s", status.State)
	}
}

func TestClientDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer ts.Close()

	client := NewClient(Options{APIKey: "test-key", BaseURL: ts.URL})
	data, err := client.Download(context.Background(), ts.URL+"/asset.png")
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if len(data) != 4 || data[0] != 0x89 {
		t.Fatalf("unexpected data: %v", data)
	}
}
