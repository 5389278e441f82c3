package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/search"
)

// ErrGenerationFailure marks a failed answer synthesis.
var ErrGenerationFailure = errors.New("generation failure")

// GenerationError reports that the language model could not produce an
// answer. The conversation it was asked in is left unchanged.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("failed to generate answer with %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is reports ErrGenerationFailure for every GenerationError.
func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailure
}

// Retriever finds the documents most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]search.Result, error)
}

// AnswerOptions configures one chat turn.
// Zero-valued fields fall back to the orchestrator's defaults.
type AnswerOptions struct {
	// Model overrides the LLM service's configured model.
	Model string

	// TopK is how many documents ground the answer.
	TopK int

	// Temperature controls randomness (0-1). Nil uses the default; a zero
	// value asks for greedy sampling.
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens int

	// MaxContextChars bounds the serialized grounding block.
	MaxContextChars int

	// HistoryMessages is how many prior messages are sent. Negative sends none.
	HistoryMessages int
}

// DefaultAnswerOptions returns the built-in defaults.
func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		TopK:            config.DefaultTopK,
		Temperature:     Temperature(config.DefaultTemperature),
		MaxTokens:       config.DefaultMaxTokens,
		MaxContextChars: config.DefaultMaxContextChars,
		HistoryMessages: config.DefaultHistoryMessages,
	}
}

// AnswerOptionsFromConfig reads answer defaults from the retrieval section.
func AnswerOptionsFromConfig(cfg *config.Config) AnswerOptions {
	return AnswerOptions{
		TopK:            cfg.Retrieval.TopK,
		Temperature:     Temperature(cfg.Retrieval.Temperature),
		MaxTokens:       cfg.Retrieval.MaxTokens,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		HistoryMessages: cfg.Retrieval.HistoryMessages,
	}
}

// Temperature returns a pointer to v for AnswerOptions.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// Answer is a generated reply and the documents that grounded it.
type Answer struct {
	Text    string          `json:"answer"`
	Model   string          `json:"model"`
	Sources []search.Result `json:"sources"`
}

// Orchestrator turns a question into an answer grounded in retrieved documents.
type Orchestrator struct {
	retriever Retriever
	llm       Service
	defaults  AnswerOptions
}

// NewOrchestrator creates an orchestrator. Zero fields of defaults take the
// built-in values.
func NewOrchestrator(retriever Retriever, svc Service, defaults AnswerOptions) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		llm:       svc,
		defaults:  merge(defaults, DefaultAnswerOptions()),
	}
}

// Answer retrieves context for query, asks the model, and on success records
// the question and answer in conv. conv may be nil for a one-off question.
//
// Retrieval errors are returned unchanged. Model failures, including
// cancellation of ctx, are returned as *GenerationError. In every failure
// case conv is not modified.
func (o *Orchestrator) Answer(ctx context.Context, conv *Conversation, query string, opts AnswerOptions) (*Answer, error) {
	opts = merge(opts, o.defaults)
	model := resolveModel(o.llm.ModelName(), CompletionOptions{Model: opts.Model})

	results, err := o.retriever.Retrieve(ctx, query, opts.TopK)
	if err != nil {
		return nil, err
	}

	block := BuildGroundingBlock(results, opts.MaxContextChars)
	messages := []Message{{Role: RoleSystem, Content: SystemPrompt(block)}}
	if conv != nil && opts.HistoryMessages > 0 {
		messages = append(messages, conv.Tail(opts.HistoryMessages)...)
	}
	messages = append(messages, Message{Role: RoleUser, Content: query})

	log.Debug("Generating answer", "model", model, "sources", len(results), "messages", len(messages), "context_chars", len(block))

	text, err := o.llm.Complete(ctx, messages, CompletionOptions{
		Model:       opts.Model,
		Temperature: *opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, &GenerationError{Model: model, Err: err}
	}

	if conv != nil {
		conv.appendTurn(query, text)
		log.Debug("Recorded turn", "conversation", conv.ID(), "messages", conv.Len())
	}

	return &Answer{
		Text:    text,
		Model:   model,
		Sources: results,
	}, nil
}

// merge fills zero fields of opts from defaults.
func merge(opts, defaults AnswerOptions) AnswerOptions {
	if opts.Model == "" {
		opts.Model = defaults.Model
	}
	if opts.TopK <= 0 {
		opts.TopK = defaults.TopK
	}
	if opts.Temperature == nil {
		opts.Temperature = defaults.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = defaults.MaxContextChars
	}
	if opts.HistoryMessages == 0 {
		opts.HistoryMessages = defaults.HistoryMessages
	}
	return opts
}
