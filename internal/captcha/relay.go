package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RelaySolver forwards the challenge to a human-relay service and polls
// for the answer. It handles both image captchas and SMS codes (the
// relay platform owns the receiving SIM cards). Relay answers are typed
// by a person, so confidence is always 1.0.
type RelaySolver struct {
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	client       *http.Client
}

// NewRelaySolver creates a relay strategy. pollInterval defaults to 2s.
func NewRelaySolver(endpoint, apiKey string, pollInterval time.Duration, client *http.Client) *RelaySolver {
	if client == nil {
		client = &http.Client{}
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &RelaySolver{endpoint: endpoint, apiKey: apiKey, pollInterval: pollInterval, client: client}
}

// Name implements Solver.
func (s *RelaySolver) Name() string { return "relay" }

type relaySubmit struct {
	APIKey  string `json:"api_key"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"` // base64 image, or the phone number for sms
}

type relayStatus struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"` // "pending" | "done" | "failed"
	Text   string `json:"text,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Solve implements Solver. The deadline comes from the chain's
// per-strategy timeout; polling stops when the context expires.
func (s *RelaySolver) Solve(ctx context.Context, payload []byte, kind Kind) (Solution, error) {
	encoded := string(payload)
	if kind == KindImage {
		encoded = base64.StdEncoding.EncodeToString(payload)
	}

	task, err := s.post(ctx, s.endpoint+"/tasks", relaySubmit{APIKey: s.apiKey, Kind: string(kind), Payload: encoded})
	if err != nil {
		return Solution{}, fmt.Errorf("relay: submit: %w", err)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Solution{}, ctx.Err()
		case <-ticker.C:
		}

		st, err := s.get(ctx, fmt.Sprintf("%s/tasks/%s?api_key=%s", s.endpoint, task.TaskID, s.apiKey))
		if err != nil {
			return Solution{}, fmt.Errorf("relay: poll: %w", err)
		}
		switch st.Status {
		case "done":
			if !ValidText(st.Text) && kind == KindImage {
				return Solution{}, fmt.Errorf("relay: implausible text %q", st.Text)
			}
			return Solution{Text: st.Text, Confidence: 1.0}, nil
		case "failed":
			return Solution{}, fmt.Errorf("relay: task failed: %s", st.Err)
		}
	}
}

func (s *RelaySolver) post(ctx context.Context, url string, body relaySubmit) (relayStatus, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return relayStatus{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return relayStatus{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *RelaySolver) get(ctx context.Context, url string) (relayStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return relayStatus{}, err
	}
	return s.do(req)
}

func (s *RelaySolver) do(req *http.Request) (relayStatus, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return relayStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return relayStatus{}, fmt.Errorf("relay returned HTTP %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return relayStatus{}, err
	}
	var st relayStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return relayStatus{}, err
	}
	return st, nil
}
