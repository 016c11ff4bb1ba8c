// Package modelclient wraps the external learned-model HTTP service in a
// single predict(text, model) -> verdict call. It never retries — retry
// and fallback policy belongs to the failsafe dispatcher.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
)

// SupportedModels enumerates the model names the service accepts. An
// unrecognized name is a ValidationError, not passed through to the
// remote service.
var SupportedModels = map[string]bool{
	"distilbert": true,
	"roberta":    true,
	"vader-ml":   true,
}

// Client calls a single logical endpoint: POST {baseURL}/predict.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting baseURL. An empty baseURL is valid — the
// Failsafe Dispatcher treats that as "always fall back", per the
// MODEL_SERVICE_URL environment default.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Deadline is also imposed per-call via ctx; this is a backstop.
			Timeout: 45 * time.Second,
		},
	}
}

// Configured reports whether a backing service URL was set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type predictRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type predictResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	ModelUsed  string  `json:"model_used"`
}

// Infer calls the model service and maps its response to a
// SentimentVerdict tagged source=model. model must be empty or a name in
// SupportedModels.
func (c *Client) Infer(ctx context.Context, text string, model string) (domain.SentimentVerdict, error) {
	if model != "" && !SupportedModels[model] {
		return domain.SentimentVerdict{}, domain.ErrUnknownModel
	}
	if !c.Configured() {
		return domain.SentimentVerdict{}, domain.ErrNetwork
	}

	start := time.Now()

	body, err := json.Marshal(predictRequest{Text: text, Model: model})
	if err != nil {
		return domain.SentimentVerdict{}, fmt.Errorf("%w: encode request: %v", domain.ErrDecode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return domain.SentimentVerdict{}, fmt.Errorf("%w: build request: %v", domain.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.SentimentVerdict{}, domain.ErrTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return domain.SentimentVerdict{}, domain.ErrTimeout
		}
		return domain.SentimentVerdict{}, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return domain.SentimentVerdict{}, &domain.ServiceError{Status: resp.StatusCode}
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return domain.SentimentVerdict{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	latency := time.Since(start)

	var compound float64
	label := domain.Label(pr.Label)
	switch label {
	case domain.LabelPositive:
		compound = pr.Confidence
	case domain.LabelNegative:
		compound = -pr.Confidence
	default:
		label = domain.LabelNeutral
		compound = 0
	}

	return domain.SentimentVerdict{
		Label:      label,
		Confidence: pr.Confidence,
		Compound:   compound,
		Model:      pr.ModelUsed,
		Source:     domain.SourceModel,
		LatencyMs:  latency.Milliseconds(),
	}, nil
}
