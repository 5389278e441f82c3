package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/llm"
	"github.com/nickcecere/qitops/internal/search"
	"github.com/nickcecere/qitops/internal/ui"
)

var (
	chatModel   string
	chatNoWatch bool
)

// chatCmd runs the interactive assistant.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the QA assistant",
	Long: `Start an interactive session with the QA assistant. Every answer is
grounded in the loaded records and earlier turns are sent as history.

Record files that change while the session runs are loaded automatically
unless --no-watch is given.

Commands inside the session:
  /model [name]  show or switch the chat model
  /models        list the configured chat models
  /sources       show the records behind the last answer
  /history       print the conversation
  /reset         start a new conversation
  /exit          leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "chat model (default from config)")
	chatCmd.Flags().BoolVar(&chatNoWatch, "no-watch", false, "do not load record files that change during the session")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	paths := dataPaths(dataFlags, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	if _, err := a.ingest(ctx, paths, os.Stderr); err != nil {
		return err
	}

	if !chatNoWatch {
		go a.watch(ctx, paths)
	}

	model := chatModel
	if model == "" {
		model = cfg.ActiveModel()
	}

	session := &chatSession{
		answerer: orch,
		conv:     llm.NewConversation(),
		models:   cfg.LLM.Models,
		model:    model,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
		render:   ui.RenderMarkdown,
		thinking: func() func() {
			s := ui.StartSpinner(os.Stderr, "Thinking")
			return s.Stop
		},
	}
	return session.run(ctx)
}

// answerer is the part of the orchestrator the chat session uses.
type answerer interface {
	Answer(ctx context.Context, conv *llm.Conversation, query string, opts llm.AnswerOptions) (*llm.Answer, error)
}

// chatSession is one interactive conversation.
type chatSession struct {
	answerer answerer
	conv     *llm.Conversation
	models   []string
	model    string
	sources  []search.Result

	in       io.Reader
	out      io.Writer
	render   func(string) string
	thinking func() (stop func())
}

// run reads questions until EOF, /exit or cancellation of ctx.
func (s *chatSession) run(ctx context.Context) error {
	fmt.Fprintf(s.out, "%s %s\n\n", ui.AssistantLabel.Render("Assistant:"), llm.Greeting)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(s.out, ui.UserPrompt.Render("You: "))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return <-readErr
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(line); quit {
				return nil
			}
			continue
		}

		s.ask(ctx, line)
	}
}

// ask answers one question and prints the reply or the failure.
func (s *chatSession) ask(ctx context.Context, question string) {
	stop := func() {}
	if s.thinking != nil {
		stop = s.thinking()
	}
	answer, err := s.answerer.Answer(ctx, s.conv, question, llm.AnswerOptions{Model: s.model})
	stop()

	if err != nil {
		fmt.Fprintf(s.out, "%s\n\n", ui.FormatError(describeAnswerError(err)))
		return
	}

	s.sources = answer.Sources
	fmt.Fprintln(s.out, ui.AssistantLabel.Render("Assistant:"))
	fmt.Fprintln(s.out, s.render(answer.Text))
}

// command runs a slash command and reports whether the session should end.
func (s *chatSession) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true

	case "/reset":
		s.conv.Reset()
		s.sources = nil
		fmt.Fprintln(s.out, ui.Dim.Render("Conversation cleared."))

	case "/model":
		if arg == "" {
			fmt.Fprintf(s.out, "Model: %s\n", s.model)
			break
		}
		if len(s.models) > 0 && !slices.Contains(s.models, arg) {
			fmt.Fprintln(s.out, ui.Warning.Render(fmt.Sprintf("%s is not in the configured model list", arg)))
		}
		s.model = arg
		fmt.Fprintf(s.out, "Model: %s\n", s.model)

	case "/models":
		for _, m := range s.models {
			marker := "  "
			if m == s.model {
				marker = "* "
			}
			fmt.Fprintln(s.out, marker+m)
		}

	case "/sources":
		if len(s.sources) == 0 {
			fmt.Fprintln(s.out, ui.Dim.Render("No sources yet."))
			break
		}
		printSources(s.out, s.sources)

	case "/history":
		for _, m := range s.conv.Messages() {
			label := ui.UserPrompt.Render("You:")
			if m.Role == llm.RoleAssistant {
				label = ui.AssistantLabel.Render("Assistant:")
			}
			fmt.Fprintf(s.out, "%s %s\n", label, m.Content)
		}

	case "/help":
		fmt.Fprintln(s.out, "/model [name], /models, /sources, /history, /reset, /exit")

	default:
		fmt.Fprintln(s.out, ui.FormatError(fmt.Errorf("unknown command %s (try /help)", name)))
	}
	return false
}
