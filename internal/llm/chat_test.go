package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/qitops/internal/config"
	"github.com/nickcecere/qitops/internal/embeddings/embedtest"
	"github.com/nickcecere/qitops/internal/search"
	"github.com/nickcecere/qitops/internal/store"
)

// fakeLLM records requests and returns a canned reply or error.
type fakeLLM struct {
	model string
	reply string
	err   error
	hook  func(ctx context.Context) error

	mu       sync.Mutex
	requests [][]Message
	options  []CompletionOptions
}

func (f *fakeLLM) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, append([]Message(nil), messages...))
	f.options = append(f.options, opts)
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) Provider() Provider { return "fake" }
func (f *fakeLLM) ModelName() string  { return f.model }

func (f *fakeLLM) last() ([]Message, CompletionOptions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.options[len(f.options)-1]
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newScenarioRetriever(t *testing.T) *search.Retriever {
	t.Helper()
	emb := embedtest.NewLexical()
	st := store.New(emb)
	require.NoError(t, st.AddDocuments(context.Background(), []store.Document{
		{Kind: store.KindTestCase, Content: "Test case TC1: login succeeds", Metadata: map[string]any{"category": "auth"}},
		{Kind: store.KindTestCase, Content: "Test case TC2: logout fails on timeout", Metadata: map[string]any{"category": "auth"}},
		{Kind: store.KindPerformanceTest, Content: "Perf test on /users (GET)", Metadata: map[string]any{"endpoint": "/users"}},
	}))
	return search.NewRetriever(st, emb)
}

func TestAnswerGroundsPromptInRetrievedDocuments(t *testing.T) {
	svc := &fakeLLM{model: "deepseek-r1:14b", reply: "TC1 covers login."}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
	conv := NewConversation()

	answer, err := orch.Answer(context.Background(), conv, "login test", AnswerOptions{})
	require.NoError(t, err)

	assert.Equal(t, "TC1 covers login.", answer.Text)
	assert.Equal(t, "deepseek-r1:14b", answer.Model)
	require.Len(t, answer.Sources, 3)
	assert.Equal(t, "Test case TC1: login succeeds", answer.Sources[0].Document.Content)

	messages, opts := svc.last()
	require.Len(t, messages, 2)
	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.True(t, strings.HasPrefix(messages[0].Content, "QA Context:\n["))
	assert.Contains(t, messages[0].Content, "Test case TC1: login succeeds")
	assert.Contains(t, messages[0].Content, `"category":"auth"`)
	assert.True(t, strings.HasSuffix(messages[0].Content, "Be concise and technical."))
	assert.Equal(t, Message{Role: RoleUser, Content: "login test"}, messages[1])

	assert.Equal(t, 0.3, opts.Temperature)
	assert.Equal(t, 2048, opts.MaxTokens)
	assert.Empty(t, opts.Model)

	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "login test"},
		{Role: RoleAssistant, Content: "TC1 covers login."},
	}, conv.Messages())
}

func TestAnswerTopKDefaultsToThree(t *testing.T) {
	svc := &fakeLLM{reply: "ok"}
	retriever := &countingRetriever{}
	orch := NewOrchestrator(retriever, svc, AnswerOptions{})

	_, err := orch.Answer(context.Background(), nil, "q", AnswerOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, retriever.k)

	_, err = orch.Answer(context.Background(), nil, "q", AnswerOptions{TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, retriever.k)
}

type countingRetriever struct {
	k   int
	err error
}

func (r *countingRetriever) Retrieve(ctx context.Context, query string, k int) ([]search.Result, error) {
	r.k = k
	return nil, r.err
}

func TestAnswerSendsHistoryWindow(t *testing.T) {
	svc := &fakeLLM{reply: "ok"}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
	conv := NewConversation()
	for i := range 5 {
		conv.appendTurn(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	_, err := orch.Answer(context.Background(), conv, "login test", AnswerOptions{})
	require.NoError(t, err)

	messages, _ := svc.last()
	require.Len(t, messages, 8) // system + 6 history + query
	assert.Equal(t, Message{Role: RoleUser, Content: "q2"}, messages[1])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "a4"}, messages[6])
	assert.Equal(t, "login test", messages[7].Content)

	_, err = orch.Answer(context.Background(), conv, "login test", AnswerOptions{HistoryMessages: -1})
	require.NoError(t, err)
	messages, _ = svc.last()
	assert.Len(t, messages, 2)
}

func TestAnswerModelOverride(t *testing.T) {
	svc := &fakeLLM{model: "deepseek-r1:14b", reply: "ok"}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())

	answer, err := orch.Answer(context.Background(), nil, "login test", AnswerOptions{Model: "mistral:latest"})
	require.NoError(t, err)

	_, opts := svc.last()
	assert.Equal(t, "mistral:latest", opts.Model)
	assert.Equal(t, "mistral:latest", answer.Model)
}

func TestAnswerTemperature(t *testing.T) {
	svc := &fakeLLM{reply: "ok"}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
	ctx := context.Background()

	_, err := orch.Answer(ctx, nil, "login test", AnswerOptions{})
	require.NoError(t, err)
	_, opts := svc.last()
	assert.Equal(t, 0.3, opts.Temperature)

	_, err = orch.Answer(ctx, nil, "login test", AnswerOptions{Temperature: Temperature(0)})
	require.NoError(t, err)
	_, opts = svc.last()
	assert.Equal(t, 0.0, opts.Temperature)

	// A zero configured temperature is kept, not replaced by the default
	cfg := config.DefaultConfig()
	cfg.Retrieval.Temperature = 0
	greedy := NewOrchestrator(newScenarioRetriever(t), svc, AnswerOptionsFromConfig(cfg))
	_, err = greedy.Answer(ctx, nil, "login test", AnswerOptions{})
	require.NoError(t, err)
	_, opts = svc.last()
	assert.Equal(t, 0.0, opts.Temperature)
}

func TestAnswerGenerationFailureLeavesHistoryUntouched(t *testing.T) {
	cause := &ProviderError{Provider: ProviderOllama, Model: "m", Op: "chat", Err: errors.New("connection refused")}
	svc := &fakeLLM{model: "m", reply: "first"}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
	conv := NewConversation()

	_, err := orch.Answer(context.Background(), conv, "login test", AnswerOptions{})
	require.NoError(t, err)
	before := conv.Messages()

	svc.err = cause
	answer, err := orch.Answer(context.Background(), conv, "perf users", AnswerOptions{})
	require.Error(t, err)
	assert.Nil(t, answer)

	assert.True(t, errors.Is(err, ErrGenerationFailure))
	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, "m", genErr.Model)
	var perr *ProviderError
	assert.True(t, errors.As(err, &perr))

	assert.Equal(t, before, conv.Messages())
}

func TestAnswerCancellationLeavesHistoryUntouched(t *testing.T) {
	t.Run("cancelled while generating", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc := &fakeLLM{hook: func(ctx context.Context) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}}
		orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
		conv := NewConversation()

		_, err := orch.Answer(ctx, conv, "login test", AnswerOptions{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrGenerationFailure)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, conv.Len())
	})

	t.Run("cancelled as the reply arrives", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc := &fakeLLM{reply: "late", hook: func(context.Context) error {
			cancel()
			return nil
		}}
		orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
		conv := NewConversation()

		_, err := orch.Answer(ctx, conv, "login test", AnswerOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, conv.Len())
	})

	t.Run("cancelled before retrieval", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		svc := &fakeLLM{reply: "unused"}
		orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
		conv := NewConversation()

		_, err := orch.Answer(ctx, conv, "login test", AnswerOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrGenerationFailure))
		assert.Equal(t, 0, svc.calls())
		assert.Equal(t, 0, conv.Len())
	})
}

func TestAnswerRetrievalErrorReturnedAsIs(t *testing.T) {
	svc := &fakeLLM{reply: "unused"}
	orch := NewOrchestrator(newScenarioRetriever(t), svc, DefaultAnswerOptions())
	conv := NewConversation()

	_, err := orch.Answer(context.Background(), conv, "", AnswerOptions{})
	assert.ErrorIs(t, err, search.ErrEmptyQuery)
	assert.False(t, errors.Is(err, ErrGenerationFailure))
	assert.Equal(t, 0, svc.calls())
	assert.Equal(t, 0, conv.Len())
}

func TestAnswerWithEmptyCorpus(t *testing.T) {
	emb := embedtest.NewLexical()
	svc := &fakeLLM{reply: "No QA data loaded yet."}
	orch := NewOrchestrator(search.NewRetriever(store.New(emb), emb), svc, DefaultAnswerOptions())

	answer, err := orch.Answer(context.Background(), nil, "login test", AnswerOptions{})
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)

	messages, _ := svc.last()
	assert.True(t, strings.HasPrefix(messages[0].Content, "QA Context:\n[]\n"))
}

func TestBuildGroundingBlock(t *testing.T) {
	results := []search.Result{
		{Document: store.Document{Kind: store.KindTestCase, Content: "Test case TC1: login succeeds", Metadata: map[string]any{"ticket": "QA-1"}}, Score: 0.81649658},
		{Document: store.Document{Kind: store.KindPerformanceTest, Content: "Performance test on /users (GET)", Metadata: map[string]any{"error_rate": 0.02}}, Score: 0.4},
	}

	block := BuildGroundingBlock(results, 0)
	require.True(t, json.Valid([]byte(block)))

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(block), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "test_case", entries[0]["kind"])
	assert.Equal(t, 0.8165, entries[0]["score"])
	assert.Equal(t, "QA-1", entries[0]["metadata"].(map[string]any)["ticket"])

	assert.Equal(t, "[]", BuildGroundingBlock(nil, 4000))
}

func TestBuildGroundingBlockIsBounded(t *testing.T) {
	results := make([]search.Result, 50)
	for i := range results {
		results[i] = search.Result{Document: store.Document{
			Kind:    store.KindTestCase,
			Content: fmt.Sprintf("Test case TC%d: %s", i, strings.Repeat("step ", 20)),
		}, Score: 1 - float64(i)/100}
	}

	block := BuildGroundingBlock(results, 1000)
	assert.LessOrEqual(t, len(block), 1000)
	require.True(t, json.Valid([]byte(block)))

	var entries []groundingEntry
	require.NoError(t, json.Unmarshal([]byte(block), &entries))
	require.NotEmpty(t, entries)
	assert.Less(t, len(entries), 50)
	assert.True(t, strings.HasPrefix(entries[0].Content, "Test case TC0:"))
}

func TestBuildGroundingBlockShortensOversizedFirstEntry(t *testing.T) {
	results := []search.Result{{Document: store.Document{
		Kind:    store.KindTestCase,
		Content: strings.Repeat("é", 500),
	}, Score: 1}}

	block := BuildGroundingBlock(results, 200)
	assert.LessOrEqual(t, len(block), 200)
	require.True(t, json.Valid([]byte(block)))

	var entries []groundingEntry
	require.NoError(t, json.Unmarshal([]byte(block), &entries))
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Content, "..."))
}

func TestSystemPrompt(t *testing.T) {
	prompt := SystemPrompt(`[{"kind":"test_case"}]`)
	assert.Equal(t, "QA Context:\n[{\"kind\":\"test_case\"}]\nYou are a QA expert assistant. Answer questions based on the provided test cases and performance metrics. Be concise and technical.", prompt)
}

func TestConversation(t *testing.T) {
	conv := NewConversation()
	id := conv.ID()
	assert.NotEmpty(t, id)
	assert.Empty(t, conv.Tail(6))

	conv.appendTurn("q1", "a1")
	conv.appendTurn("q2", "a2")
	assert.Equal(t, 4, conv.Len())
	assert.Equal(t, []Message{{Role: RoleUser, Content: "q2"}, {Role: RoleAssistant, Content: "a2"}}, conv.Tail(2))
	assert.Len(t, conv.Tail(10), 4)
	assert.Nil(t, conv.Tail(0))

	// Returned slices are copies
	msgs := conv.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "q1", conv.Messages()[0].Content)

	conv.Reset()
	assert.Equal(t, 0, conv.Len())
	assert.NotEqual(t, id, conv.ID())
}

func TestAnswerOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.TopK = 5
	cfg.Retrieval.HistoryMessages = 2

	opts := AnswerOptionsFromConfig(cfg)
	assert.Equal(t, 5, opts.TopK)
	assert.Equal(t, 2, opts.HistoryMessages)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.3, *opts.Temperature)

	cfg.Retrieval.Temperature = 0
	opts = AnswerOptionsFromConfig(cfg)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, 0.0, *opts.Temperature)
	assert.Equal(t, 4000, opts.MaxContextChars)
}
