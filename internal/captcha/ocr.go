package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OCRSolver sends the challenge to an OCR engine exposed over HTTP
// (the local recognition sidecar and the generic fallback service
// share this wire shape). SMS challenges are not an OCR concern, so
// the solver rejects them and lets the chain move on.
type OCRSolver struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewOCRSolver creates an OCR strategy against the given engine URL.
func NewOCRSolver(name, endpoint string, client *http.Client) *OCRSolver {
	if client == nil {
		client = &http.Client{}
	}
	return &OCRSolver{name: name, endpoint: endpoint, client: client}
}

// Name implements Solver.
func (s *OCRSolver) Name() string { return s.name }

// ocrRequest is the engine's request body.
type ocrRequest struct {
	Image string `json:"image"` // base64-encoded
	Kind  string `json:"kind"`
}

// ocrResponse is the engine's response body.
type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Err        string  `json:"error,omitempty"`
}

// Solve implements Solver.
func (s *OCRSolver) Solve(ctx context.Context, payload []byte, kind Kind) (Solution, error) {
	if kind != KindImage {
		return Solution{}, fmt.Errorf("ocr: unsupported kind %q", kind)
	}
	if len(payload) == 0 {
		return Solution{}, fmt.Errorf("ocr: empty image")
	}

	body, err := json.Marshal(ocrRequest{
		Image: base64.StdEncoding.EncodeToString(payload),
		Kind:  string(kind),
	})
	if err != nil {
		return Solution{}, fmt.Errorf("ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Solution{}, fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Solution{}, fmt.Errorf("ocr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Solution{}, fmt.Errorf("ocr: engine returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Solution{}, fmt.Errorf("ocr: read response: %w", err)
	}
	var out ocrResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Solution{}, fmt.Errorf("ocr: decode response: %w", err)
	}
	if out.Err != "" {
		return Solution{}, fmt.Errorf("ocr: engine error: %s", out.Err)
	}
	if !ValidText(out.Text) {
		return Solution{}, fmt.Errorf("ocr: implausible text %q", out.Text)
	}

	return Solution{Text: out.Text, Confidence: out.Confidence}, nil
}
