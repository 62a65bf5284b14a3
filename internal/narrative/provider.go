package narrative

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	googleoption "google.golang.org/api/option"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// backend describes one supported provider.
type backend struct {
	defaultModel string
	keyEnv       string
	build        func(apiKey, model string) Provider
}

var backends = map[string]backend{
	ProviderAnthropic: {
		defaultModel: "claude-sonnet-4-5",
		keyEnv:       "ANTHROPIC_API_KEY",
		build: func(key, model string) Provider {
			return &anthropicProvider{client: anthropic.NewClient(anthropicoption.WithAPIKey(key)), model: model}
		},
	},
	ProviderOpenAI: {
		defaultModel: "gpt-4o-mini",
		keyEnv:       "OPENAI_API_KEY",
		build: func(key, model string) Provider {
			return &openaiProvider{client: openai.NewClient(openaioption.WithAPIKey(key)), model: model}
		},
	},
	ProviderGoogle: {
		defaultModel: "gemini-1.5-flash",
		keyEnv:       "GOOGLE_API_KEY",
		build: func(key, model string) Provider {
			return &googleProvider{apiKey: key, model: model}
		},
	},
}

// normalizeProvider maps an empty name to anthropic and lower-cases the rest.
func normalizeProvider(name string) string {
	if name == "" {
		return ProviderAnthropic
	}
	return strings.ToLower(name)
}

// DefaultModel returns the model used for providerName when none is
// configured, or "" for an unknown provider.
func DefaultModel(providerName string) string {
	return backends[normalizeProvider(providerName)].defaultModel
}

func defaultNewProvider(providerName, model string) (Provider, error) {
	name := normalizeProvider(providerName)
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("narrative: unknown provider %q", providerName)
	}
	key := os.Getenv(b.keyEnv)
	if key == "" {
		return nil, fmt.Errorf("narrative: %s requires %s", name, b.keyEnv)
	}
	if model == "" {
		model = b.defaultModel
	}
	return b.build(key, model), nil
}

// joinText concatenates the text parts of a reply.
func joinText(provider string, parts []string) (string, error) {
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("narrative: %s returned no text", provider)
	}
	return text, nil
}

// Anthropic has no JSON mode; the reply is prefilled with the opening brace
// of the summary object.

const jsonPrefill = "{"

type anthropicProvider struct {
	client anthropic.Client
	model  string
}

func anthropicParams(model string, req Request) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(jsonPrefill)),
		},
	}
}

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropicParams(p.model, req))
	if err != nil {
		return "", fmt.Errorf("narrative: anthropic: %w", err)
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text, err := joinText(ProviderAnthropic, parts)
	if err != nil {
		return "", err
	}
	return jsonPrefill + text, nil
}

type openaiProvider struct {
	client openai.Client
	model  string
}

func openaiParams(model string, req Request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
}

func (p *openaiProvider) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openaiParams(p.model, req))
	if err != nil {
		return "", fmt.Errorf("narrative: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("narrative: openai returned no choices")
	}
	return joinText(ProviderOpenAI, []string{resp.Choices[0].Message.Content})
}

// googleProvider opens a client per call so the caller's context bounds the
// connection.
type googleProvider struct {
	apiKey string
	model  string
}

// summarySchema constrains Gemini output to the Summary shape.
func summarySchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"overview": str,
			"findings": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"section":        str,
						"item":           {Type: genai.TypeInteger},
						"severity":       {Type: genai.TypeString, Enum: []string{string(SeverityLow), string(SeverityMedium), string(SeverityHigh)}},
						"observation":    str,
						"recommendation": str,
					},
					Required: []string{"section", "item", "severity", "observation"},
				},
			},
		},
		Required: []string{"overview", "findings"},
	}
}

func configureGemini(m *genai.GenerativeModel, req Request) {
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	m.SetMaxOutputTokens(int32(req.MaxTokens))
	m.SetTemperature(float32(req.Temperature))
	m.ResponseMIMEType = "application/json"
	m.ResponseSchema = summarySchema()
}

func (p *googleProvider) Complete(ctx context.Context, req Request) (string, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(p.apiKey))
	if err != nil {
		return "", fmt.Errorf("narrative: google client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(p.model)
	configureGemini(m, req)
	resp, err := m.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return "", fmt.Errorf("narrative: google: %w", err)
	}
	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				parts = append(parts, string(t))
			}
		}
	}
	return joinText(ProviderGoogle, parts)
}
