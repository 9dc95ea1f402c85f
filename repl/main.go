// Command ghostline-repl is an interactive test REPL for ghostline
// completions. It keeps a growing in-memory document, requests a completion
// after every entered line, previews the first candidate as dim ghost text,
// and writes structured TOML results to stdout.
//
// Usage:
//
//	./ghostline-repl             # interactive, TOML on screen
//	./ghostline-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	ghostline "github.com/velvetfork/ghostline"
	"github.com/velvetfork/ghostline/document"
	"github.com/velvetfork/ghostline/engine"
	"github.com/velvetfork/ghostline/telemetry"
	"github.com/velvetfork/ghostline/transport"
)

const prompt = "> "

func main() {
	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		fmt.Fprintf(tty, "error: cannot load config: %v\r\n", err)
		os.Exit(1)
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		fmt.Fprintf(tty, "warning: %s\r\n", w)
	}

	client := transport.NewOpenAIClient(ghostline.ResolveBaseURL(cfg), ghostline.ResolveAPIKey(cfg))
	eng := engine.New(cfg, client, engine.WithSink(telemetry.Slog{}))
	defer eng.Close()

	lang := "go"
	var buffer strings.Builder
	version := 0

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "ghostline repl\r\n")
	fmt.Fprintf(tty, "model: %s\r\n", ghostline.ResolveModel(cfg))
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  :lang <id>   set the document language (current: %s)\r\n", lang)
	fmt.Fprintf(tty, "  :clear       reset the document buffer\r\n")
	fmt.Fprintf(tty, "  :quit        exit\r\n")
	fmt.Fprintf(tty, "\r\ntab accepts the ghost suggestion\r\n\r\n")

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)

	var lastFirst *ghostline.Candidate
	justAccepted := false

	for {
		text, cursor, accepted, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			break
		}

		if accepted && lastFirst != nil {
			eng.HandleAccept(lastFirst.ID)
			justAccepted = true
			lastFirst = nil
		}

		if text == ":quit" || text == ":q" {
			break
		}
		if text == ":clear" {
			buffer.Reset()
			version = 0
			editor.SetGhost("")
			eng.ClearCache()
			fmt.Fprintf(tty, "buffer cleared\r\n\r\n")
			continue
		}
		if strings.HasPrefix(text, ":lang ") {
			lang = strings.TrimSpace(strings.TrimPrefix(text, ":lang "))
			fmt.Fprintf(tty, "language: %s\r\n\r\n", lang)
			continue
		}
		if text == "" {
			continue
		}

		buffer.WriteString(text)
		version++
		doc := document.NewSnapshot("repl:///buffer", lang, version, buffer.String())
		pos := doc.PositionAt(len(buffer.String()) - len(text) + cursor)

		result := eng.Complete(context.Background(), engine.Request{
			Doc:                 doc,
			Pos:                 pos,
			FollowupAfterAccept: justAccepted,
		})
		justAccepted = false

		switch {
		case result.Status != ghostline.StatusSuccess:
			fmt.Fprintf(tty, "%s", result.Status)
			if result.Reason != "" {
				fmt.Fprintf(tty, ": %s", result.Reason)
			}
			fmt.Fprintf(tty, "\r\n")
			editor.SetGhost("")
			lastFirst = nil
		case len(result.Candidates) == 0:
			fmt.Fprintf(tty, "(no candidates)\r\n")
			editor.SetGhost("")
			lastFirst = nil
		default:
			for i, c := range result.Candidates {
				conf := "-"
				if c.MeanLogProb != nil {
					conf = fmt.Sprintf("%.2f", *c.MeanLogProb)
				}
				fmt.Fprintf(tty, "  %d. [%s/%s] %s\r\n", i+1, result.Type, conf, oneLine(c.Text))
			}
			first := result.Candidates[0]
			eng.HandleShown(doc.URI(), first)
			lastFirst = &first
			editor.SetGhost(firstLine(first.Text))
		}
		fmt.Fprintf(tty, "\r\n")

		buffer.WriteString("\n")

		// TOML output to stdout (crlfWriter handles raw mode).
		writeEntry(out, text, cursor, lang, result)
	}
}

// oneLine flattens candidate text for the tty summary.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", "⏎")
	if len(s) > 72 {
		s = s[:72] + "…"
	}
	return s
}

// firstLine returns the candidate text up to its first newline, which is all
// the single-row ghost preview can render.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
