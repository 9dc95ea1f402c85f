package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ghostline "github.com/velvetfork/ghostline"
	"golang.org/x/term"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, input string, cursor int, lang string, result ghostline.Result) {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))

	fmt.Fprintln(w, "[request]")
	fmt.Fprintf(w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "input = %s\n", tomlQuote(input))
	fmt.Fprintf(w, "cursor = %d\n", cursor)
	fmt.Fprintf(w, "language = %s\n", tomlQuote(lang))
	fmt.Fprintf(w, "request_id = %d\n", result.RequestID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[result]")
	fmt.Fprintf(w, "status = %s\n", tomlQuote(result.Status.String()))
	if result.Status == ghostline.StatusSuccess {
		fmt.Fprintf(w, "type = %s\n", tomlQuote(result.Type.String()))
	}
	if result.Reason != "" {
		fmt.Fprintf(w, "reason = %s\n", tomlQuote(result.Reason))
	}
	fmt.Fprintln(w)

	for _, c := range result.Candidates {
		fmt.Fprintln(w, "[[candidates]]")
		fmt.Fprintf(w, "text = %s\n", tomlQuote(c.Text))
		fmt.Fprintf(w, "choice_index = %d\n", c.ChoiceIndex)
		if c.MeanLogProb != nil {
			fmt.Fprintf(w, "mean_log_prob = %.4f\n", *c.MeanLogProb)
		}
		if c.ServedFromCache > 0 {
			fmt.Fprintf(w, "served_from_cache = %d\n", c.ServedFromCache)
		}
		fmt.Fprintln(w)
	}
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
