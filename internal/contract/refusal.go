package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RefusalVerifier asks the agent under test to respond to a prompt.
// The contract validator samples it to confirm that requests for missing
// or planned skills are refused.
type RefusalVerifier interface {
	AskAgent(ctx context.Context, prompt string) (string, error)
}

// HTTPVerifier calls an OpenAI-compatible chat-completion endpoint.
type HTTPVerifier struct {
	APIURL    string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// AskAgent sends the prompt as a single user message and returns the
// assistant's reply text.
func (h *HTTPVerifier) AskAgent(ctx context.Context, prompt string) (string, error) {
	maxTokens := h.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	body, _ := json.Marshal(map[string]interface{}{
		"model":       h.Model,
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens":  maxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", h.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ask agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ask agent: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("agent returned no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

// refusalMarkers are phrases a compliant refusal is expected to contain.
var refusalMarkers = []string{
	"cannot", "can't", "unable to", "not able to", "don't have",
	"do not have", "not available", "not supported", "no such capability",
	"i'm sorry", "i am sorry",
}

// IsRefusal reports whether a response text reads as a refusal.
func IsRefusal(response string) bool {
	lower := strings.ToLower(response)
	for _, m := range refusalMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
