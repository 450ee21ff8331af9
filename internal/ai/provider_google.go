package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash"
)

// GoogleProvider calls the Gemini generateContent API.
type GoogleProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// GoogleOption configures a GoogleProvider.
type GoogleOption func(*GoogleProvider)

// WithGoogleBaseURL overrides the API root, e.g. for a proxy.
func WithGoogleBaseURL(url string) GoogleOption {
	return func(p *GoogleProvider) {
		p.baseURL = url
	}
}

// WithGoogleHTTPClient sets a custom HTTP client.
func WithGoogleHTTPClient(client *http.Client) GoogleOption {
	return func(p *GoogleProvider) {
		p.client = client
	}
}

// WithGoogleModel sets the model used when a request does not name one.
func WithGoogleModel(model string) GoogleOption {
	return func(p *GoogleProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// NewGoogleProvider creates a new Google Gemini provider.
func NewGoogleProvider(apiKey string, opts ...GoogleOption) *GoogleProvider {
	p := &GoogleProvider{
		apiKey:  apiKey,
		baseURL: defaultGeminiBaseURL,
		model:   defaultGeminiModel,
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoogleProvider) Name() string { return "google" }

// geminiRequest is the request body for the Gemini generateContent API.
type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

// geminiResponse is the response from the Gemini API.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

func (p *GoogleProvider) endpoint() endpoint {
	header := http.Header{}
	header.Set("x-goog-api-key", p.apiKey)
	return endpoint{provider: "google", baseURL: p.baseURL, client: p.client, header: header}
}

// geminiRole maps chat roles to Gemini's. System messages travel in
// systemInstruction and report false.
func geminiRole(role string) (string, bool) {
	switch role {
	case "system":
		return "", false
	case "assistant":
		return "model", true
	default:
		return role, true
	}
}

func (p *GoogleProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	for _, m := range req.Messages {
		role, ok := geminiRole(m.Role)
		if !ok {
			continue
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	if len(body.Contents) == 0 {
		return CompletionResponse{}, fmt.Errorf("request has no user content")
	}
	if sys := req.System(); sys != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		body.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			temp := req.Temperature
			body.GenerationConfig.Temperature = &temp
		}
	}

	var out geminiResponse
	if err := p.endpoint().do(ctx, http.MethodPost, "/models/"+model+":generateContent", body, &out); err != nil {
		return CompletionResponse{}, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return CompletionResponse{}, fmt.Errorf("no content in response")
	}

	candidate := out.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	return CompletionResponse{
		Content:      text.String(),
		Model:        model,
		InputTokens:  out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		Truncated:    candidate.FinishReason == "MAX_TOKENS",
	}, nil
}

func (p *GoogleProvider) HealthCheck(ctx context.Context) error {
	if err := p.endpoint().do(ctx, http.MethodGet, "/models", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
