// Package agent turns a question about an ingested document into a grounded
// answer. The Responder retrieves the most relevant units of the collection,
// assembles a prompt that restricts the model to that context, calls the
// chat model once and then marks which retrieved sources the answer drew on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

// NoContextAnswer is returned, without calling the model, when retrieval
// finds nothing in the collection to ground an answer on.
const NoContextAnswer = "I could not find any relevant information in this document to answer your question."

// DefaultHistoryDepth is the number of prior turns (user+assistant pairs)
// loaded from the conversation store when the caller supplies no history.
const DefaultHistoryDepth = 10

// systemPrompt instructs the model to stay inside the retrieved context.
const systemPrompt = `You are a document assistant. You answer questions about a single PDF
document using only the numbered context sections supplied with each question.

Rules:
- Use only facts stated in the context. Do not rely on prior knowledge.
- If the context does not contain the answer, say that the document does not
  cover it. Never guess.
- Quote figures, names and dates exactly as they appear in the context.
- Tables are given as markdown. Read values by row and column header.
- When it helps the reader, mention the page the information comes from.
- Earlier turns of the conversation are given for continuity only; they are
  not a source of facts.`

// Retriever returns ranked sources for a question. *rag.Retriever
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query string, k int) ([]rag.RetrievedSource, error)
}

// Turn is one prior message of the conversation.
type Turn struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

// Request is a single question against one collection.
type Request struct {
	// Question is passed to the model verbatim.
	Question string `json:"question"`

	// Collection names the ingested document to answer from.
	Collection string `json:"collection"`

	// History is the conversation so far, oldest first, excluding Question.
	// When nil the responder loads the recent history of Collection from its
	// conversation store. An empty non-nil slice means no history.
	History []Turn `json:"history,omitempty"`

	// K is the number of sources to retrieve. Zero selects the retriever default.
	K int `json:"k,omitempty"`
}

// Answer is the generated reply and the sources it was grounded on.
type Answer struct {
	// Text is the model's answer, or NoContextAnswer.
	Text string `json:"answer"`

	// Sources are the retrieved units in rank order, with Used and
	// Highlights set by attribution.
	Sources []rag.RetrievedSource `json:"sources"`

	// Grounded is false when no sources were found and the model was not called.
	Grounded bool `json:"grounded"`

	// Duration is the wall time of the whole generation.
	Duration time.Duration `json:"duration_ns"`
}

// Config holds the dependencies required to construct a Responder.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever finds the context for each question.
	Retriever Retriever

	// DefaultK is used when Request.K is zero. Zero lets the retriever decide.
	DefaultK int

	// History is the optional conversation store. When set, prior turns are
	// replayed and every successful answer is persisted.
	History store.ConversationStore

	// HistoryDepth is the number of prior turns (user+assistant pairs) to
	// load per query. Defaults to DefaultHistoryDepth if zero.
	HistoryDepth int

	// MaxContextTokens is the token budget for the full prompt. History is
	// trimmed oldest-first to fit. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Counter counts prompt tokens. Defaults to budget.Heuristic.
	Counter budget.Counter

	// Logger receives generation events. Nil discards.
	Logger *slog.Logger
}

// Responder answers questions from retrieved document context.
// It is safe for concurrent use.
type Responder struct {
	// chatModel produces the answer text.
	chatModel model.BaseChatModel

	// retriever supplies ranked sources for each question.
	retriever Retriever

	// defaultK is forwarded when the request leaves K unset.
	defaultK int

	// history is the optional conversation store for multi-turn context.
	history store.ConversationStore

	// historyDepth is the number of recent turns to replay per query.
	historyDepth int

	// maxContextTokens is the token budget for the full input context.
	maxContextTokens int

	counter budget.Counter
	log     *slog.Logger
}

// New constructs a Responder from the provided Config.
func New(cfg *Config) (*Responder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agent: config must not be nil")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("agent: Retriever must not be nil")
	}

	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	counter := cfg.Counter
	if counter == nil {
		counter = budget.Heuristic{}
	}

	return &Responder{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		defaultK:         cfg.DefaultK,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
		counter:          counter,
		log:              logging.Component(cfg.Logger, "responder"),
	}, nil
}

// Generate answers req with a single model call.
func (r *Responder) Generate(ctx context.Context, req Request) (*Answer, error) {
	return r.run(ctx, req, func(ctx context.Context, msgs []*schema.Message) (string, error) {
		resp, err := r.chatModel.Generate(ctx, msgs)
		if err != nil {
			return "", err
		}
		if resp == nil {
			return "", errors.New("empty response")
		}
		return resp.Content, nil
	})
}

// Stream answers req with a single streaming model call, passing every
// token to onToken as it arrives. A non-nil error from onToken aborts the
// call. When no context is found NoContextAnswer is delivered as one token.
func (r *Responder) Stream(ctx context.Context, req Request, onToken func(string) error) (*Answer, error) {
	if onToken == nil {
		onToken = func(string) error { return nil }
	}
	ans, err := r.run(ctx, req, func(ctx context.Context, msgs []*schema.Message) (string, error) {
		sr, err := r.chatModel.Stream(ctx, msgs)
		if err != nil {
			return "", err
		}
		defer sr.Close()

		var buf strings.Builder
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", fmt.Errorf("stream receive: %w", err)
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			buf.WriteString(msg.Content)
			if err := onToken(msg.Content); err != nil {
				return "", fmt.Errorf("token callback: %w", err)
			}
		}
		return buf.String(), nil
	})
	if err != nil {
		return nil, err
	}
	if !ans.Grounded {
		if err := onToken(ans.Text); err != nil {
			return nil, fmt.Errorf("agent: token callback: %w", err)
		}
	}
	return ans, nil
}

// callFunc performs the model call for one prompt and returns the answer text.
type callFunc func(ctx context.Context, msgs []*schema.Message) (string, error)

func (r *Responder) run(ctx context.Context, req Request, call callFunc) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("agent: question is empty: %w", rag.ErrInvalidInput)
	}
	if req.Collection == "" {
		return nil, fmt.Errorf("agent: collection name is empty: %w", rag.ErrInvalidInput)
	}

	start := time.Now()
	genErr := func(err error) error {
		return &rag.GenerationError{Question: req.Question, Collection: req.Collection, Err: err}
	}

	k := req.K
	if k <= 0 {
		k = r.defaultK
	}
	sources, err := r.retriever.Retrieve(ctx, req.Collection, req.Question, k)
	if err != nil {
		return nil, genErr(fmt.Errorf("agent: retrieval: %w", err))
	}

	if len(sources) == 0 {
		r.log.Info("no context found, skipping model call",
			slog.String("collection", req.Collection))
		ans := &Answer{Text: NoContextAnswer, Sources: []rag.RetrievedSource{}, Duration: time.Since(start)}
		r.remember(ctx, req.Collection, req.Question, ans)
		return ans, nil
	}

	history := r.loadHistory(ctx, req)
	msgs := r.buildMessages(ctx, req.Question, sources, history)

	text, err := call(ctx, msgs)
	if err != nil {
		return nil, genErr(fmt.Errorf("agent: model call: %w: %w", rag.ErrLanguageModel, err))
	}

	ans := &Answer{
		Text:     text,
		Sources:  Attribute(text, sources),
		Grounded: true,
		Duration: time.Since(start),
	}
	used := 0
	for _, s := range ans.Sources {
		if s.Used {
			used++
		}
	}
	r.log.Info("answer generated",
		slog.String("collection", req.Collection),
		slog.Int("sources", len(ans.Sources)),
		slog.Int("used", used),
		slog.Int("history", len(history)),
		slog.Duration("elapsed", ans.Duration),
	)

	r.remember(ctx, req.Collection, req.Question, ans)
	return ans, nil
}

// loadHistory returns the caller's history, or the stored recent turns when
// the caller passed none.
func (r *Responder) loadHistory(ctx context.Context, req Request) []Turn {
	if req.History != nil || r.history == nil {
		return req.History
	}
	prior, err := r.history.Recent(ctx, req.Collection, r.historyDepth*2)
	if err != nil {
		r.log.Warn("history: failed to load prior messages", slog.Any("error", err))
		return nil
	}
	turns := make([]Turn, 0, len(prior))
	for _, m := range prior {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// remember persists the question and answer as one atomic append. Failure is
// logged; the answer is still returned.
func (r *Responder) remember(ctx context.Context, collection, question string, ans *Answer) {
	if r.history == nil {
		return
	}
	err := r.history.Append(ctx, collection,
		store.Message{Role: store.RoleUser, Content: question},
		store.Message{Role: store.RoleAssistant, Content: ans.Text, Sources: ans.Sources},
	)
	if err != nil {
		r.log.Warn("history: failed to persist turn", slog.Any("error", err))
	}
}

// buildMessages assembles the prompt: system instructions, the trimmed
// history most-recent-last, then the numbered context and the question.
func (r *Responder) buildMessages(ctx context.Context, question string, sources []rag.RetrievedSource, history []Turn) []*schema.Message {
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(buildContext(sources) + "\n## Question\n\n" + question)

	historyMsgs := make([]*schema.Message, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case store.RoleUser:
			historyMsgs = append(historyMsgs, schema.UserMessage(t.Content))
		case store.RoleAssistant:
			historyMsgs = append(historyMsgs, schema.AssistantMessage(t.Content, nil))
		}
	}

	before := len(historyMsgs)
	historyMsgs = budget.Trim(r.counter, []*schema.Message{system, user}, historyMsgs, r.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", r.maxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, len(historyMsgs)+2)
	msgs = append(msgs, system)
	msgs = append(msgs, historyMsgs...)
	return append(msgs, user)
}

// buildContext formats the retrieved sources as numbered sections in rank order.
func buildContext(sources []rag.RetrievedSource) string {
	var sb strings.Builder
	sb.WriteString("## Context\n\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "### [%d] %s\n%s\n\n", i+1, Describe(s.Unit), s.Unit.Content)
	}
	return sb.String()
}

// Describe renders where a unit came from, e.g. "page 3, table". It heads
// each context section and labels sources in the CLI and chat views.
func Describe(u rag.ContentUnit) string {
	kind := u.ContentType()
	switch kind {
	case rag.ContentImageCaption:
		kind = "image caption"
	case "":
		kind = rag.ContentText
	}
	if page := rag.PageNumber(u); page > 0 {
		return fmt.Sprintf("page %d, %s", page, kind)
	}
	return kind
}
