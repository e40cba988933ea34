package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaiketsu-ai/kaiketsu/internal/model"
)

// OpenAIClient calls an OpenAI-compatible chat-completions endpoint.
// It implements Classifier, Advisor, and Generator. Works against the
// hosted API or any compatible local server (vLLM, Ollama, LM Studio).
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOpenAIClient creates a client for baseURL (e.g. "https://api.openai.com/v1").
// The HTTP client timeout is a backstop; per-call deadlines come from the
// caller's context.
func NewOpenAIClient(baseURL, apiKey, chatModel string, temperature float64) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       chatModel,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete sends one chat exchange and returns the assistant text.
func (c *OpenAIClient) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(snippet))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrUnavailable, result.Error.Type, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	return result.Choices[0].Message.Content, nil
}

const classifySystem = `You are a support ticket classifier. Respond with a JSON object:
{"category": "account|billing|technical|product|general", "priority": "low|medium|high|critical", "confidence": 0.0-1.0, "reasoning": "one sentence"}`

// Classify asks the model for a raw category/priority signal.
func (c *OpenAIClient) Classify(ctx context.Context, subject, body string) (ClassifySignal, error) {
	user := "Subject: " + subject + "\n\nMessage: " + body
	out, err := c.complete(ctx, classifySystem, user, true)
	if err != nil {
		return ClassifySignal{}, err
	}

	var sig ClassifySignal
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &sig); err != nil {
		return ClassifySignal{}, fmt.Errorf("%w: parse classify output: %v", ErrUnavailable, err)
	}
	return sig, nil
}

const adviseSystem = `You decide whether a support ticket needs a human agent. Consider customer
frustration, complexity, billing disputes, legal threats, and explicit requests for a manager.
Respond with a JSON object: {"recommend_escalate": true|false}`

// Advise asks the model for an independent escalation recommendation.
func (c *OpenAIClient) Advise(ctx context.Context, ticket TicketContext) (bool, error) {
	user := fmt.Sprintf("Subject: %s\nMessage: %s\nCategory: %s\nPriority: %s",
		ticket.Subject, ticket.Body, ticket.Category, ticket.Priority)
	out, err := c.complete(ctx, adviseSystem, user, true)
	if err != nil {
		return false, err
	}

	var advisory struct {
		RecommendEscalate bool `json:"recommend_escalate"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &advisory); err != nil {
		return false, fmt.Errorf("%w: parse advisory output: %v", ErrUnavailable, err)
	}
	return advisory.RecommendEscalate, nil
}

const generateSystem = `You are a professional customer support agent writing an email response body.
Be empathetic, give clear step-by-step guidance, and reference the provided knowledge articles when
relevant. Do not write a greeting, subject line, or signature; those are added by the caller.`

// Generate writes the body of an AI response grounded in the given articles.
func (c *OpenAIClient) Generate(ctx context.Context, ticket TicketContext, articles []model.KnowledgeArticle) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n\nMessage: %s\n", ticket.Subject, ticket.Body)
	if len(articles) == 0 {
		sb.WriteString("\nNo relevant knowledge articles found.\n")
	}
	for i, a := range articles {
		fmt.Fprintf(&sb, "\nArticle %d: %s\n%s\n", i+1, a.Title, a.Content)
	}

	out, err := c.complete(ctx, generateSystem, sb.String(), false)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out)
	if text == "" {
		return "", fmt.Errorf("%w: empty generation", ErrUnavailable)
	}
	return text, nil
}
