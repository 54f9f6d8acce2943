package generation

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

	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
	"github.com/Skeyelab/annualreview.com/internal/pkg/evidence"
)

const (
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultStandardModel  = "gpt-4o-mini"
	defaultPremiumModel   = "gpt-4o"
	defaultRequestTimeout = 120 * time.Second
)

// OpenAIRunner generates reviews through an OpenAI-compatible
// chat-completions endpoint. Premium runs use the larger model.
type OpenAIRunner struct {
	APIKey        string
	BaseURL       string
	StandardModel string
	PremiumModel  string

	HTTPClient *http.Client
}

func NewOpenAIRunnerFromEnv() *OpenAIRunner {
	return &OpenAIRunner{
		APIKey:        strings.TrimSpace(env.GetEnv("OPENAI_API_KEY", "")),
		BaseURL:       strings.TrimRight(env.GetEnv("OPENAI_API_BASE_URL", defaultOpenAIBaseURL), "/"),
		StandardModel: env.GetEnv("GENERATION_MODEL", defaultStandardModel),
		PremiumModel:  env.GetEnv("GENERATION_PREMIUM_MODEL", defaultPremiumModel),
		HTTPClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (r *OpenAIRunner) Generate(ctx context.Context, doc *evidence.Document, opts Options) (string, error) {
	if strings.TrimSpace(r.APIKey) == "" {
		return "", errors.New("OPENAI_API_KEY is not configured")
	}

	model := r.StandardModel
	if opts.Premium {
		model = r.PremiumModel
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(doc)},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.APIKey)

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("generation request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errors.New("generation response contained no choices")
	}
	return out.Choices[0].Message.Content, nil
}

const systemPrompt = "You write polished annual performance reviews. " +
	"Use only the accomplishments provided; do not invent facts."

func buildPrompt(doc *evidence.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an annual review for %s", doc.Subject)
	if doc.Role != "" {
		fmt.Fprintf(&b, " (%s)", doc.Role)
	}
	fmt.Fprintf(&b, " covering %s.\n", doc.Period)
	if doc.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s.\n", doc.Tone)
	}
	b.WriteString("Accomplishments:\n")
	for _, h := range doc.Highlights {
		fmt.Fprintf(&b, "- %s\n", h)
	}
	return b.String()
}
