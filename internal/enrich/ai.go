package enrich

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

const (
	defaultClaudeURL   = "https://api.anthropic.com/v1/messages"
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultClaudeModel = "claude-3-haiku-20240307"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-1.5-flash"

	modelTemperature = 0.1
	modelMaxTokens   = 500
	systemPrompt     = "You are a book metadata expert. Return only valid JSON."
)

// BuildPrompt renders the metadata request sent to every language model.
func BuildPrompt(id Identifiers) string {
	return fmt.Sprintf(`Find metadata for this book: %s

Return ONLY a JSON object with these fields (no markdown, no explanation):
{
  "title": "full book title",
  "author": "author name(s)",
  "publisher": "publisher name",
  "description": "2-3 sentence description",
  "genre": "primary genre",
  "pages": number of pages,
  "format": "Hardcover/Paperback/eBook/etc"
}

If you cannot find accurate information, use null for unknown fields. Do not fabricate data.`, id.Describe())
}

// Completer turns a prompt into model text.
type Completer func(ctx context.Context, prompt string) (string, error)

// ModelProvider adapts a language model to Provider.
type ModelProvider struct {
	kind     Kind
	complete Completer
}

// NewModelProvider wraps complete as a provider of the given kind.
func NewModelProvider(kind Kind, complete Completer) *ModelProvider {
	return &ModelProvider{kind: kind, complete: complete}
}

func (p *ModelProvider) Kind() Kind { return p.kind }

// Lookup prompts the model and parses its answer.
func (p *ModelProvider) Lookup(ctx context.Context, id Identifiers) (Metadata, error) {
	if id.Empty() && id.Author == "" {
		return Metadata{}, apperr.New(apperr.KindValidation, string(p.kind), "no identifiers for prompt")
	}
	text, err := p.complete(ctx, BuildPrompt(id))
	if err != nil {
		return Metadata{}, err
	}
	return ParseResponse(text)
}

// ClaudeCompleter calls the Anthropic messages API.
func ClaudeCompleter(baseURL, apiKey, model string, client *http.Client) Completer {
	if baseURL == "" {
		baseURL = defaultClaudeURL
	}
	if model == "" {
		model = defaultClaudeModel
	}
	if client == nil {
		client = defaultHTTPClient(0)
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type request struct {
		Model     string    `json:"model"`
		MaxTokens int       `json:"max_tokens"`
		System    string    `json:"system,omitempty"`
		Messages  []message `json:"messages"`
	}
	type response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}

	return func(ctx context.Context, prompt string) (string, error) {
		const op = "claude complete"
		payload := request{
			Model:     model,
			MaxTokens: modelMaxTokens,
			System:    systemPrompt,
			Messages:  []message{{Role: "user", Content: prompt}},
		}
		var out response
		if err := postJSON(ctx, client, baseURL, op, headers, payload, &out); err != nil {
			return "", err
		}
		for _, block := range out.Content {
			if text := strings.TrimSpace(block.Text); text != "" {
				return text, nil
			}
		}
		return "", apperr.New(apperr.KindInvalidPayload, op, "empty content")
	}
}

// OpenAICompleter calls the OpenAI chat completions API.
func OpenAICompleter(baseURL, apiKey, model string, client *http.Client) Completer {
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if client == nil {
		client = defaultHTTPClient(0)
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}

	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type request struct {
		Model       string    `json:"model"`
		Messages    []message `json:"messages"`
		Temperature float64   `json:"temperature"`
		MaxTokens   int       `json:"max_tokens"`
	}
	type response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}

	return func(ctx context.Context, prompt string) (string, error) {
		const op = "openai complete"
		payload := request{
			Model: model,
			Messages: []message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
			Temperature: modelTemperature,
			MaxTokens:   modelMaxTokens,
		}
		var out response
		if err := postJSON(ctx, client, baseURL, op, headers, payload, &out); err != nil {
			return "", err
		}
		for _, choice := range out.Choices {
			if text := strings.TrimSpace(choice.Message.Content); text != "" {
				return text, nil
			}
		}
		return "", apperr.New(apperr.KindInvalidPayload, op, "empty choices")
	}
}

// GeminiCompleter calls Google Gemini through the generative-ai-go client.
// A client is opened per call; extra options (endpoint, transport) are
// appended after the API key.
func GeminiCompleter(apiKey, model string, opts ...option.ClientOption) Completer {
	if model == "" {
		model = defaultGeminiModel
	}
	clientOpts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)

	return func(ctx context.Context, prompt string) (string, error) {
		const op = "gemini complete"
		client, err := genai.NewClient(ctx, clientOpts...)
		if err != nil {
			return "", apperr.E(apperr.KindInternal, op, fmt.Errorf("create client: %w", err))
		}
		defer client.Close()

		gm := client.GenerativeModel(model)
		gm.SetTemperature(float32(modelTemperature))
		gm.SetMaxOutputTokens(int32(modelMaxTokens))

		resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", apperr.E(apperr.KindTransient, op, fmt.Errorf("generate content: %w", err))
		}
		return geminiText(resp)
	}
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	const op = "gemini complete"
	if resp == nil || len(resp.Candidates) == 0 {
		return "", apperr.New(apperr.KindInvalidPayload, op, "no candidates returned")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", apperr.New(apperr.KindInvalidPayload, op, "empty content returned")
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", apperr.New(apperr.KindInvalidPayload, op, "unexpected response format")
	}
	return b.String(), nil
}
