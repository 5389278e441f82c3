package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// RenderMarkdown renders markdown for the terminal, or returns content
// unchanged when rendering fails.
func RenderMarkdown(content string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// HighlightJSON pretty-prints v as JSON with terminal syntax highlighting.
func HighlightJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}

	iterator, err := lexer.Tokenise(nil, string(data))
	if err != nil {
		return string(data), nil
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return string(data), nil
	}
	return buf.String(), nil
}

// Spinner animates a status line until stopped.
type Spinner struct {
	w    io.Writer
	stop chan struct{}
	done chan struct{}
}

// StartSpinner displays message with an animated spinner on w.
func StartSpinner(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:    w,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(message)
	return s
}

func (s *Spinner) run(message string) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	defer close(s.done)

	for i := 0; ; i = (i + 1) % len(frames) {
		select {
		case <-s.stop:
			// Clear spinner line
			fmt.Fprint(s.w, "\r\033[2K")
			return
		case <-ticker.C:
			fmt.Fprintf(s.w, "\r%s %s", Highlight.Render(frames[i]), message)
		}
	}
}

// Stop clears the spinner line and waits for the animation to end.
func (s *Spinner) Stop() {
	close(s.stop)
	<-s.done
}
