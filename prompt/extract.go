// Package prompt turns a document snapshot and cursor position into the
// prompt sent to the completion model.
package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/velvetfork/ghostline/document"
)

// Status classifies the outcome of prompt extraction.
type Status int

const (
	StatusOK Status = iota
	// StatusContentExcluded means the document matches an exclusion rule
	// and must not be sent anywhere.
	StatusContentExcluded
	// StatusTooShort means there is not enough context to complete from.
	StatusTooShort
	StatusError
	StatusCancelled
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusContentExcluded:
		return "contentExcluded"
	case StatusTooShort:
		return "tooShort"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Prompt is the extracted model input.
type Prompt struct {
	// Prefix is the windowed document text before the cursor.
	Prefix string
	// Suffix is the windowed document text after the cursor.
	Suffix string
	// Fingerprint identifies the effective prompt for in-flight
	// request deduplication.
	Fingerprint string
}

// Extractor produces a prompt for a completion point.
type Extractor interface {
	Extract(ctx context.Context, doc *document.Snapshot, pos document.Position) (Prompt, Status)
}

const (
	defaultMaxPrefixBytes = 8192
	defaultMaxSuffixBytes = 2048
	defaultMinPrefixLen   = 4
)

// Windowed is the default extractor: it slices a bounded window of text
// around the cursor and refuses documents matching the exclusion rules.
type Windowed struct {
	MaxPrefixBytes int
	MaxSuffixBytes int
	MinPrefixLen   int
	// ExcludedURIParts rejects documents whose URI contains any of these
	// substrings.
	ExcludedURIParts []string
}

// NewWindowed creates an extractor with default window sizes and the stock
// exclusion list.
func NewWindowed() *Windowed {
	return &Windowed{
		MaxPrefixBytes:   defaultMaxPrefixBytes,
		MaxSuffixBytes:   defaultMaxSuffixBytes,
		MinPrefixLen:     defaultMinPrefixLen,
		ExcludedURIParts: []string{".env", "secret", "credential", "id_rsa"},
	}
}

// Extract implements Extractor.
func (w *Windowed) Extract(ctx context.Context, doc *document.Snapshot, pos document.Position) (Prompt, Status) {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return Prompt{}, StatusTimeout
		}
		return Prompt{}, StatusCancelled
	}
	if doc == nil {
		return Prompt{}, StatusError
	}

	uri := strings.ToLower(doc.URI())
	for _, part := range w.ExcludedURIParts {
		if strings.Contains(uri, part) {
			return Prompt{}, StatusContentExcluded
		}
	}

	prefix := doc.Prefix(pos)
	suffix := doc.Suffix(pos)
	if len(strings.TrimSpace(prefix)) < w.MinPrefixLen {
		return Prompt{}, StatusTooShort
	}

	if len(prefix) > w.MaxPrefixBytes {
		prefix = prefix[len(prefix)-w.MaxPrefixBytes:]
		// Start the window at a line boundary so the model never sees a
		// torn first line.
		if i := strings.IndexByte(prefix, '\n'); i >= 0 && i+1 < len(prefix) {
			prefix = prefix[i+1:]
		}
	}
	if len(suffix) > w.MaxSuffixBytes {
		suffix = suffix[:w.MaxSuffixBytes]
	}

	return Prompt{
		Prefix:      prefix,
		Suffix:      suffix,
		Fingerprint: fingerprint(prefix, suffix),
	}, StatusOK
}

func fingerprint(prefix, suffix string) string {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(suffix))
	return hex.EncodeToString(h.Sum(nil)[:12])
}
