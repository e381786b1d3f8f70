package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(context.Background(), "claude-on-a-toaster")
	assert.ErrorContains(t, err, "unknown LLM provider")

	c, err := New(context.Background(), "openai", WithAPIKey("k"), WithBaseURL("http://localhost:1/"))
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
}

func TestGeminiRequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Gemini(context.Background())
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestOpenAIComplete(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "ANSWER: {\"htg_sp\": 21}"}
			}]
		}`))
	}))
	t.Cleanup(srv.Close)

	c := OpenAi(context.Background(), WithAPIKey("test-key"), WithBaseURL(srv.URL+"/"))
	out, err := c.Complete(context.Background(), "gpt-4o-mini", "hello")
	require.NoError(t, err)
	assert.Equal(t, `ANSWER: {"htg_sp": 21}`, out)
	assert.Equal(t, "gpt-4o-mini", gotModel)
}

func TestOpenAITimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := OpenAi(context.Background(),
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL+"/"),
		WithTimeout(50*time.Millisecond),
	)
	_, err := c.Complete(context.Background(), "gpt-4o-mini", "hello")
	assert.Error(t, err)
}
