// Package openai provides an OpenAI-compatible selector synthesis provider.
//
// The provider sends one non-streaming chat completion per synthesis request
// and parses the delimited selector list out of the reply. Transport and
// parsing failures are absorbed into a best-effort fallback selector list,
// never surfaced as errors, so the resolution engine's retry loop always has
// candidates to verify.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/pkoukk/tiktoken-go"

	"github.com/entrhq/locus/pkg/backend"
	"github.com/entrhq/locus/pkg/logging"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"
)

const systemPrompt = `You are an element locator for browser automation.
Given an HTML snippet and an element description, respond with selectors that
match the described element. Reply with selectors only, no prose: the best
selector first, then up to four ranked alternates, separated by "|||".
Prefer robust selectors: test identifier attributes (data-testid, data-test),
aria labels, stable ids, and normalize-space() text matches. Avoid positional
indexes and absolute paths.`

const templateInstruction = `The description is a template: {name} tokens are
variables. Return selector patterns that keep the {name} tokens in place of
the concrete values so one pattern serves any value.`

// Provider implements backend.Synthesizer against OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	log        *logging.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model used for synthesis.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL points the provider at an OpenAI-compatible endpoint such as
// Azure OpenAI or a local server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates an OpenAI synthesis provider. An empty apiKey falls
// back to OPENAI_API_KEY; the base URL falls back to OPENAI_BASE_URL before
// the public endpoint.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}
	p.log, _ = logging.NewLogger("openai")
	return p, nil
}

// Synthesize sends one chat completion and extracts the delimited selector
// list. Any transport or parsing failure degrades to FallbackSelectors with
// a nil error, honoring the capability contract.
func (p *Provider) Synthesize(ctx context.Context, req backend.SynthesisRequest) (*backend.SynthesisResponse, error) {
	messages := p.buildMessages(req)

	reply, usage, err := p.complete(ctx, messages)
	if err != nil {
		p.log.Warnf("synthesis call failed for %q, using fallback selectors: %v", req.Intent, err)
		return &backend.SynthesisResponse{Selector: backend.FallbackSelectors(req.Intent)}, nil
	}

	selector := extractSelectorList(reply)
	if selector == "" {
		p.log.Warnf("synthesis returned no usable selector for %q, using fallback selectors", req.Intent)
		return &backend.SynthesisResponse{Selector: backend.FallbackSelectors(req.Intent)}, nil
	}

	if usage == nil {
		usage = &backend.TokenUsage{PromptTokens: p.countTokens(messageText(messages)), CompletionTokens: p.countTokens(reply)}
	}
	return &backend.SynthesisResponse{Selector: selector, Usage: usage}, nil
}

func (p *Provider) buildMessages(req backend.SynthesisRequest) []openai.ChatCompletionMessageParamUnion {
	system := systemPrompt
	if req.WantTemplate {
		system += "\n\n" + templateInstruction
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Page: %s\n", req.OriginID)
	fmt.Fprintf(&user, "Element description: %s\n\n", req.Intent)
	user.WriteString("HTML:\n")
	user.WriteString(req.Snapshot)

	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user.String()),
	}
}

// complete performs the raw chat-completions request. Raw HTTP keeps the
// provider compatible with OpenAI-like endpoints that deviate slightly from
// the official SDK's expectations.
func (p *Provider) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, *backend.TokenUsage, error) {
	reqBody := map[string]any{
		"model":    p.model,
		"messages": messages,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil, fmt.Errorf("response contained no choices")
	}

	var usage *backend.TokenUsage
	if completion.Usage != nil {
		usage = &backend.TokenUsage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
		}
	}
	return completion.Choices[0].Message.Content, usage, nil
}

// extractSelectorList pulls the delimited selector list out of a model
// reply, tolerating code fences and surrounding prose lines.
func extractSelectorList(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, backend.Delimiter) || looksLikeSelector(line) {
			return line
		}
	}
	return ""
}

func looksLikeSelector(line string) bool {
	return strings.HasPrefix(line, "/") || strings.HasPrefix(line, "xpath=") ||
		strings.HasPrefix(line, "#") || strings.HasPrefix(line, ".") ||
		strings.HasPrefix(line, "[")
}

// countTokens estimates token usage when the API omits it. Encoder failures
// degrade to a character-based estimate.
func (p *Provider) countTokens(text string) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			p.log.Warnf("tokenizer unavailable, estimating usage by length: %v", err)
			return
		}
		p.enc = enc
	})
	if p.enc == nil {
		return len(text) / 4
	}
	return len(p.enc.Encode(text, nil, nil))
}

func messageText(messages []openai.ChatCompletionMessageParamUnion) string {
	data, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	return string(data)
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return p.model
}

// BaseURL returns the configured endpoint.
func (p *Provider) BaseURL() string {
	return p.baseURL
}
