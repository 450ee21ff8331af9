package ai

import (
	"context"
	"fmt"
	"net/http"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIProvider talks to the chat completions API of OpenAI or of any
// compatible server (OpenRouter, a local Ollama /v1 endpoint) selected with
// WithBaseURL.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	name    string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL points the provider at another compatible API.
func WithBaseURL(url string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.client = client
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithProviderName sets the name reported in logs and responses.
func WithProviderName(name string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.name = name
	}
}

// NewOpenAIProvider creates a provider for apiKey. An empty key sends no
// Authorization header, which local servers accept.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: defaultOpenAIBaseURL,
		model:   defaultOpenAIModel,
		client:  http.DefaultClient,
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
	Model   string         `json:"model"`
	Usage   openaiUsage    `json:"usage"`
}

func (p *OpenAIProvider) endpoint() endpoint {
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return endpoint{provider: p.name, baseURL: p.baseURL, client: p.client, header: header}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	body := openaiRequest{
		Model:     req.Model,
		Messages:  make([]openaiMessage, len(req.Messages)),
		MaxTokens: req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = p.model
	}
	for i, m := range req.Messages {
		body.Messages[i] = openaiMessage(m)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}

	var out openaiResponse
	if err := p.endpoint().do(ctx, http.MethodPost, "/chat/completions", body, &out); err != nil {
		return CompletionResponse{}, err
	}
	if len(out.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("no choices in response")
	}

	choice := out.Choices[0]
	model := out.Model
	if model == "" {
		model = body.Model
	}
	return CompletionResponse{
		Content:      choice.Message.Content,
		Model:        model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Truncated:    choice.FinishReason == "length",
	}, nil
}

// HealthCheck lists models, which any valid key may do.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if err := p.endpoint().do(ctx, http.MethodGet, "/models", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
