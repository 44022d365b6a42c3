package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/locus/pkg/backend"
)

func completionBody(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     42,
			"completion_tokens": 7,
		},
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProvider("test-key", WithBaseURL(server.URL), WithModel("test-model"))
	require.NoError(t, err)
	return p
}

func TestSynthesizeParsesSelectorList(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])

		json.NewEncoder(w).Encode(completionBody("#login|||//button[@type='submit']"))
	})

	resp, err := p.Synthesize(context.Background(), backend.SynthesisRequest{
		Snapshot: "<body></body>",
		Intent:   "login button",
		OriginID: "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "#login|||//button[@type='submit']", resp.Selector)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
}

func TestSynthesizeTemplateRequestAddsInstruction(t *testing.T) {
	var sawTemplateInstruction bool
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []json.RawMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body.Messages)
		sawTemplateInstruction = strings.Contains(string(body.Messages[0]), "template")
		json.NewEncoder(w).Encode(completionBody("//button[text()='{label}']"))
	})

	resp, err := p.Synthesize(context.Background(), backend.SynthesisRequest{
		Intent:       "button {label}",
		WantTemplate: true,
	})
	require.NoError(t, err)
	assert.True(t, sawTemplateInstruction)
	assert.Contains(t, resp.Selector, "{label}")
}

func TestSynthesizeFallsBackOnServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	})

	resp, err := p.Synthesize(context.Background(), backend.SynthesisRequest{Intent: "Log in"})
	require.NoError(t, err, "transport failure must degrade to fallback selectors, not an error")
	assert.Equal(t, backend.FallbackSelectors("Log in"), resp.Selector)
}

func TestSynthesizeFallsBackOnProseOnlyReply(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionBody("I could not find a matching element, sorry."))
	})

	resp, err := p.Synthesize(context.Background(), backend.SynthesisRequest{Intent: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, backend.FallbackSelectors("ghost"), resp.Selector)
}

func TestNewProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)
}

func TestExtractSelectorList(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"bare list", "#a|||//b", "#a|||//b"},
		{"fenced", "```\n//button[@id='x']\n```", "//button[@id='x']"},
		{"prose then selector", "Here you go:\n//button[@id='x']", "//button[@id='x']"},
		{"single css id", "#login", "#login"},
		{"prose only", "no selector here at all", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractSelectorList(tt.reply))
		})
	}
}
