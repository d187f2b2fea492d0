// Package generate produces outreach message bodies through an external
// LLM endpoint.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Placeholders supported inside custom prompts.
const (
	phProduct       = "{product}"
	phCompany       = "{company}"
	phSenderName    = "{senderName}"
	phSenderCompany = "{senderCompany}"
)

const defaultPrompt = phCompany + `様への営業メッセージを作成してください。

差出人: ` + phSenderCompany + ` ` + phSenderName + `
提案する製品: ` + phProduct + `

丁寧なビジネス文体で、件名なし・本文のみ・400字以内で書いてください。`

// Config points at the generation endpoint.
type Config struct {
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Generator implements outreach.ContentGenerator over HTTP.
type Generator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Generator. client may be nil.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{cfg: cfg, client: client, logger: logger}
}

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type generateResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Generate fills the prompt template and calls the endpoint. Server-side
// and rate-limit failures come back retryable, rejected prompts fatal.
func (g *Generator) Generate(ctx context.Context, req outreach.GenerationRequest) (string, error) {
	if g.cfg.Endpoint == "" {
		return "", outreach.E(outreach.KindValidation, "generate content",
			fmt.Errorf("generation endpoint not configured"))
	}
	if req.CompanyName == "" {
		return "", outreach.E(outreach.KindValidation, "generate content",
			fmt.Errorf("company name required for task %s", req.TaskID))
	}

	model := req.Model
	if model == "" {
		model = g.cfg.Model
	}

	body, err := json.Marshal(generateRequest{
		Model:     model,
		Prompt:    buildPrompt(req),
		MaxTokens: g.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", outreach.E(outreach.Classify(err), "generate content", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", outreach.E(outreach.Classify(err), "generate content", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", outreach.E(outreach.KindRateLimited, "generate content",
			fmt.Errorf("endpoint returned 429"))
	case resp.StatusCode >= 500:
		return "", outreach.E(outreach.KindNetwork, "generate content",
			fmt.Errorf("endpoint returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", outreach.E(outreach.KindFatal, "generate content",
			fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", outreach.E(outreach.KindFatal, "generate content",
			fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", outreach.E(outreach.KindFatal, "generate content", fmt.Errorf("%s", out.Error))
	}
	content := strings.TrimSpace(out.Content)
	if content == "" {
		return "", outreach.E(outreach.KindFatal, "generate content",
			fmt.Errorf("endpoint returned empty content"))
	}

	g.logger.Debug("content generated",
		zap.String("task_id", req.TaskID),
		zap.String("model", model),
		zap.Int("chars", len([]rune(content))),
	)
	return content, nil
}

// buildPrompt substitutes the template placeholders. An empty custom prompt
// falls back to the built-in template.
func buildPrompt(req outreach.GenerationRequest) string {
	tpl := req.CustomPrompt
	if strings.TrimSpace(tpl) == "" {
		tpl = defaultPrompt
	}
	r := strings.NewReplacer(
		phProduct, req.Product,
		phCompany, req.CompanyName,
		phSenderName, req.SenderName,
		phSenderCompany, req.SenderCompany,
	)
	return r.Replace(tpl)
}
