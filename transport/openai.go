package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to an OpenAI-compatible completions endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIClient creates a client for the given endpoint.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type completionsRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Suffix      string   `json:"suffix,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	N           int      `json:"n,omitempty"`
	Logprobs    int      `json:"logprobs,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type completionsChoice struct {
	Text     string `json:"text"`
	Index    int    `json:"index"`
	Logprobs *struct {
		TokenLogprobs []float64 `json:"token_logprobs"`
	} `json:"logprobs,omitempty"`
}

type completionsResponse struct {
	Choices []completionsChoice `json:"choices"`
	Error   *apiError           `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete implements Client. Single-choice requests stream so the finished
// callback can terminate generation at a trim boundary; multi-choice
// requests use one blocking call.
func (c *OpenAIClient) Complete(ctx context.Context, req Request, finished FinishedCb) (*Response, error) {
	if req.N <= 1 && finished != nil {
		return c.streamOne(ctx, req, finished)
	}
	return c.completeAll(ctx, req)
}

func (c *OpenAIClient) completeAll(ctx context.Context, req Request) (*Response, error) {
	body := completionsRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Suffix:      req.Suffix,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		N:           req.N,
		Logprobs:    1,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var result completionsResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(raw))
	}
	if result.Error != nil {
		return nil, fmt.Errorf("API error: %s", result.Error.Message)
	}

	out := &Response{}
	for _, ch := range result.Choices {
		out.Choices = append(out.Choices, Choice{
			Text:        ch.Text,
			Index:       ch.Index,
			MeanLogProb: meanLogprob(ch),
		})
	}
	return out, nil
}

func (c *OpenAIClient) streamOne(ctx context.Context, req Request, finished FinishedCb) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body := completionsRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Suffix:      req.Suffix,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      true,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk completionsResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Text
		text.WriteString(delta)

		if offset, done := finished(text.String(), delta); done {
			// Stop generating: the trimmer is confident the candidate is
			// complete at offset.
			cancel()
			full := text.String()
			if offset < 0 {
				offset = 0
			}
			if offset > len(full) {
				offset = len(full)
			}
			return &Response{Choices: []Choice{{Text: full[:offset]}}}, nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return nil, err
	}
	if ctx.Err() != nil && text.Len() == 0 {
		return nil, ctx.Err()
	}

	return &Response{Choices: []Choice{{Text: text.String()}}}, nil
}

func meanLogprob(ch completionsChoice) *float64 {
	if ch.Logprobs == nil || len(ch.Logprobs.TokenLogprobs) == 0 {
		return nil
	}
	var sum float64
	for _, lp := range ch.Logprobs.TokenLogprobs {
		sum += lp
	}
	mean := sum / float64(len(ch.Logprobs.TokenLogprobs))
	return &mean
}

// setHeaders sets common headers for API requests.
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
