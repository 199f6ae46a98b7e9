// Package understanding is the HTTP client for the text-understanding
// service. The service internals are out of scope; this client owns the wire
// contract and rejects any malformed or incomplete response rather than
// defaulting fields.
package understanding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brightpath-labs/compass/internal/fault"
)

type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// WithModel returns a client identical to c but targeting a different model
// identifier. Used by the A/B routing layer to attribute calls per model.
func (c *Client) WithModel(model string) *Client {
	return &Client{
		baseURL: c.baseURL,
		apiKey:  c.apiKey,
		model:   model,
		client:  c.client,
	}
}

// Model returns the model identifier this client attributes calls to.
func (c *Client) Model() string { return c.model }

// Sentiment is the service's sentiment verdict for a piece of text.
type Sentiment struct {
	Score float64 `json:"score"` // -1..1
	Label string  `json:"label"` // negative | neutral | positive
}

// Analysis is the structured output for a single feedback text.
type Analysis struct {
	Summary       string    `json:"summary"`
	Sentiment     Sentiment `json:"sentiment"`
	CandidateTags []string  `json:"candidate_tags"`
	Urgency       *float64  `json:"urgency,omitempty"` // 0..1 when present
}

type analyzeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// ReasoningPayload is the deterministic prompt payload for alignment
// reasoning. It carries only the structured match facts; the service turns
// them into prose.
type ReasoningPayload struct {
	Model            string   `json:"model"`
	ThemeName        string   `json:"theme_name"`
	ThemeDescription string   `json:"theme_description"`
	AlignmentScore   int      `json:"alignment_score"`
	MatchedKeywords  []string `json:"matched_keywords"`
	Conflicts        []string `json:"conflicts"`
	Opportunities    []string `json:"opportunities"`
	TargetCustomer   string   `json:"target_customer"`
}

type reasoningResponse struct {
	AlignmentReasoning string `json:"alignment_reasoning"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeFeedback sends one feedback text for analysis. Any missing or
// out-of-range field in the response is an upstream failure.
func (c *Client) AnalyzeFeedback(ctx context.Context, text string) (*Analysis, error) {
	var a Analysis
	if err := c.post(ctx, "/v1/analyze", analyzeRequest{Model: c.model, Text: text}, &a); err != nil {
		return nil, err
	}
	if err := validateAnalysis(&a); err != nil {
		return nil, fault.Upstream("understanding", err)
	}
	return &a, nil
}

// AlignmentReasoning asks the service to phrase the alignment justification
// for the structured match facts in payload.
func (c *Client) AlignmentReasoning(ctx context.Context, payload ReasoningPayload) (string, error) {
	payload.Model = c.model
	var resp reasoningResponse
	if err := c.post(ctx, "/v1/alignment", payload, &resp); err != nil {
		return "", err
	}
	if resp.AlignmentReasoning == "" {
		return "", fault.Upstream("understanding", fmt.Errorf("empty alignment_reasoning"))
	}
	return resp.AlignmentReasoning, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fault.Upstream("understanding", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Upstream("understanding", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fault.Upstream("understanding", fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message))
		}
		return fault.Upstream("understanding", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fault.Upstream("understanding", fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

func validateAnalysis(a *Analysis) error {
	if a.Summary == "" {
		return fmt.Errorf("missing summary")
	}
	if a.Sentiment.Label == "" {
		return fmt.Errorf("missing sentiment label")
	}
	if a.Sentiment.Score < -1 || a.Sentiment.Score > 1 {
		return fmt.Errorf("sentiment score %f out of range", a.Sentiment.Score)
	}
	if a.CandidateTags == nil {
		return fmt.Errorf("missing candidate_tags")
	}
	if a.Urgency != nil && (*a.Urgency < 0 || *a.Urgency > 1) {
		return fmt.Errorf("urgency %f out of range", *a.Urgency)
	}
	return nil
}
