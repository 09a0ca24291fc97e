package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntletlabs/gauntlet/generation"
)

func TestOllamaBuildURL(t *testing.T) {
	p := &OllamaProvider{}
	assert.Equal(t, "http://localhost:11434/v1/chat/completions", p.BuildURL(""))
	assert.Equal(t, "http://vllm:8000/v1/chat/completions", p.BuildURL("http://vllm:8000/v1"))
	assert.Equal(t, "http://vllm:8000/v1/chat/completions", p.BuildURL("http://vllm:8000/v1/chat/completions"))
}

func TestOpenAIBuildURL(t *testing.T) {
	p := &OpenAIProvider{}
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", p.BuildURL(""))
}

func TestOllamaBuildRequestBody(t *testing.T) {
	p := &OllamaProvider{}
	temp := 0.2
	body, err := p.BuildRequestBody("llama3", []generation.Message{{Role: "user", Content: "hi"}}, &temp, 256)
	require.NoError(t, err)

	var req openAIRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "llama3", req.Model)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.2, *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
}

func TestOllamaBuildRequestBodyOmitsUnsetMaxTokens(t *testing.T) {
	p := &OllamaProvider{}
	body, err := p.BuildRequestBody("llama3", []generation.Message{{Role: "user", Content: "hi"}}, nil, 0)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "max_tokens")
}

func TestOllamaParseResponse(t *testing.T) {
	p := &OllamaProvider{}
	body := []byte(`{
		"model": "llama3",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "answer"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
	}`)

	result, err := p.ParseResponse(body, "llama3")
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Text)
	assert.Equal(t, 12, result.Usage.TotalTokens)
	assert.Equal(t, "stop", result.FinishReason)
}

func TestOllamaParseResponseNoChoices(t *testing.T) {
	p := &OllamaProvider{}
	_, err := p.ParseResponse([]byte(`{"choices": []}`), "m")
	assert.Error(t, err)
}

func TestProvidersRegistered(t *testing.T) {
	for _, name := range []string{"anthropic", "ollama", "openai"} {
		assert.NotNil(t, generation.GetProvider(name), name)
	}
}
