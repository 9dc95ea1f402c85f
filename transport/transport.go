// Package transport performs completion-model invocation over an
// OpenAI-compatible API.
package transport

import "context"

// Request describes one model invocation.
type Request struct {
	// Prompt is the text before the cursor; Suffix the text after it.
	Prompt string
	Suffix string
	Model  string
	Stop   []string
	// N is the sampling count.
	N           int
	Temperature float64
	MaxTokens   int
}

// Choice is one candidate completion returned by the model.
type Choice struct {
	Text  string
	Index int
	// MeanLogProb is the mean token log-probability, when reported.
	MeanLogProb *float64
}

// Response is a completed model invocation.
type Response struct {
	Choices []Choice
}

// FinishedCb is invoked per streamed chunk with the accumulated choice text
// and the chunk delta. Returning (offset, true) truncates the choice at
// offset and terminates the stream early.
type FinishedCb func(text, delta string) (offset int, done bool)

// Client invokes the completion model. A nil finished callback disables
// streaming early termination.
type Client interface {
	Complete(ctx context.Context, req Request, finished FinishedCb) (*Response, error)
}
