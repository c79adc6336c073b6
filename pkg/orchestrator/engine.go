// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package orchestrator runs one user turn as an explicit state machine:
//
//	START -> REASON -> (DISPATCH -> REASON)* -> END
//
// REASON asks the completion service for either a final answer or tool
// calls. DISPATCH runs the requested calls on a bounded pool and folds the
// results back into the transcript in the order they were requested. The
// loop is capped by a round count and a per-turn timeout; hitting either
// ends the turn with a best-effort answer flagged as truncated.
//
// Every collaborator is injected through Deps, so the engine runs against
// stubs in tests and against the real registry, classifier and store in
// production.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/session"
	"github.com/kadirpekel/sahayak/pkg/synthesizer"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

// ErrEmptyQuery is returned when Ask receives a blank message.
var ErrEmptyQuery = errors.New("query is empty")

// bestEffortTimeout bounds the synthesis call made after a budget stop.
const bestEffortTimeout = 30 * time.Second

// Toolbox is the read-only view of the tool registry the engine needs.
// *tools.Registry implements it.
type Toolbox interface {
	Descriptors() []tools.Descriptor
	Definitions(names []string) []llms.ToolDefinition
	Invoke(ctx context.Context, inv tools.Invocation) tools.Result
}

// Synthesizer produces an answer from labelled grounding sections.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, sections []synthesizer.Section) (string, error)
}

// Deps are the engine's collaborators. All are required.
type Deps struct {
	LLM         llms.Provider
	Tools       Toolbox
	Classifier  classifier.Classifier
	Synthesizer Synthesizer
	Store       session.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator sets the generator used for missing or duplicate call IDs.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// Answer is the outcome of one turn.
type Answer struct {
	SessionID string
	Content   string
	Truncated bool
	Warning   string
	Rounds    int
	Decision  classifier.Decision
	// Budget is set when the turn was stopped by the round cap or timeout.
	Budget *LoopBudgetExceeded
	// Messages is the full transcript after the turn.
	Messages []session.Message
}

// Engine serves turns. It is safe for concurrent use; turns of the same
// session are serialised.
type Engine struct {
	cfg          config.OrchestratorConfig
	llm          llms.Provider
	toolbox      Toolbox
	classifier   classifier.Classifier
	synth        Synthesizer
	store        session.Store
	systemPrompt string
	now          func() time.Time
	newID        func() string
	tracer       trace.Tracer
	locks        keyedMutex
}

func New(cfg config.OrchestratorConfig, deps Deps, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	switch {
	case deps.LLM == nil:
		return nil, errors.New("orchestrator: completion provider is required")
	case deps.Tools == nil:
		return nil, errors.New("orchestrator: tool registry is required")
	case deps.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator: synthesizer is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: session store is required")
	}

	prompt := cfg.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultSystemPrompt(cfg.Domain)
	}

	e := &Engine{
		cfg:          cfg,
		llm:          deps.LLM,
		toolbox:      deps.Tools,
		classifier:   deps.Classifier,
		synth:        deps.Synthesizer,
		store:        deps.Store,
		systemPrompt: prompt,
		now:          time.Now,
		newID:        uuid.NewString,
		tracer:       observability.GetTracer("sahayak.orchestrator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CreateSession starts an empty conversation.
func (e *Engine) CreateSession(ctx context.Context) (*session.State, error) {
	return e.store.Create(ctx)
}

// Session loads a conversation.
func (e *Engine) Session(ctx context.Context, id string) (*session.State, error) {
	return e.store.Get(ctx, id)
}

// EndSession destroys a conversation.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.store.Delete(ctx, id)
}

// turn is the working set of one Ask call.
type turn struct {
	state    *session.State
	query    string
	decision classifier.Decision
	defs     []llms.ToolDefinition
	current  State
	rounds   int
	pending  []tools.Invocation
	gathered []tools.Result
	callIDs  map[string]bool
}

// Ask runs one turn for sessionID. An empty sessionID starts a new
// session. The only errors returned are a missing session, a cancelled
// context, a failed reasoning call (*synthesizer.SynthesisError) and a
// failure to persist the transcript. Tool and classifier failures are
// absorbed into the conversation.
func (e *Engine) Ask(ctx context.Context, sessionID, query string, profile classifier.Profile) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	if sessionID == "" {
		st, err := e.store.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = st.ID
	}

	unlock := e.locks.Lock(sessionID)
	defer unlock()

	st, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	ctx, span := e.tracer.Start(ctx, observability.SpanTurn,
		trace.WithAttributes(attribute.String(observability.AttrSessionID, sessionID)),
	)
	defer span.End()

	turnCtx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	t := &turn{
		state:   st,
		query:   query,
		current: StateStart,
		callIDs: make(map[string]bool),
	}
	t.decision = e.classify(turnCtx, query, profile)
	if !t.decision.None && len(t.decision.Tools) > 0 {
		t.defs = e.toolbox.Definitions(t.decision.Tools)
	}

	answer, runErr := e.run(ctx, turnCtx, t)

	st.TurnCount++
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelSave()
	if err := e.store.Save(saveCtx, st); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("failed to save session %s: %w", sessionID, err)
		} else {
			slog.Error("Failed to save session after failed turn", "session", sessionID, "error", err)
		}
	}

	truncated := answer != nil && answer.Truncated
	observability.GetGlobalMetrics().RecordTurn(ctx, time.Since(start), t.rounds, truncated, runErr)
	span.SetAttributes(attribute.Int(observability.AttrRound, t.rounds))

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		slog.Error("Turn failed", "session", sessionID, "rounds", t.rounds, "state", t.current, "error", runErr)
		return nil, runErr
	}
	span.SetStatus(codes.Ok, "")

	answer.SessionID = sessionID
	answer.Rounds = t.rounds
	answer.Decision = t.decision
	answer.Messages = st.Messages()

	slog.Info("Turn completed", "session", sessionID, "rounds", t.rounds, "decision", t.decision.String(), "truncated", truncated)
	return answer, nil
}

func (e *Engine) classify(ctx context.Context, query string, profile classifier.Profile) classifier.Decision {
	d, err := e.classifier.Classify(ctx, query, e.toolbox.Descriptors(), profile)
	if err != nil {
		slog.Warn("Classification failed, using fallback decision", "decision", d.String(), "error", err)
	}
	return d
}

// run drives the state machine from START to END. ctx is the caller's
// context; turnCtx additionally carries the turn timeout.
func (e *Engine) run(ctx, turnCtx context.Context, t *turn) (*Answer, error) {
	if t.state.Len() == 0 && e.systemPrompt != "" {
		t.state.Append(session.Message{Role: session.RoleSystem, Content: e.systemPrompt, CreatedAt: e.now()})
	}
	t.state.Append(session.Message{Role: session.RoleUser, Content: t.query, CreatedAt: e.now()})
	if err := e.advance(t, EventSeeded); err != nil {
		return nil, err
	}

	for {
		switch t.current {
		case StateReason:
			resp, err := e.reason(turnCtx, t)
			if err != nil {
				if ctx.Err() != nil {
					_ = e.advance(t, EventFailed)
					return nil, fmt.Errorf("turn cancelled: %w", ctx.Err())
				}
				if turnCtx.Err() != nil {
					return e.exhausted(ctx, t, CauseTimeout)
				}
				_ = e.advance(t, EventFailed)
				return nil, &synthesizer.SynthesisError{Stage: "reasoning", Err: err}
			}

			if len(resp.ToolCalls) == 0 {
				content := strings.TrimSpace(resp.Text)
				if content == "" {
					content = e.bestEffort(ctx, t)
				}
				t.state.Append(session.Message{Role: session.RoleAssistant, Content: content, CreatedAt: e.now()})
				if err := e.advance(t, EventFinalAnswer); err != nil {
					return nil, err
				}
				return &Answer{Content: content}, nil
			}

			invs := e.normalize(t, resp.ToolCalls)
			t.state.Append(assistantCalls(resp.Text, invs, e.now()))

			if t.rounds >= e.cfg.MaxRounds {
				budget := fmt.Errorf("not executed: the limit of %d tool rounds was reached", e.cfg.MaxRounds)
				results := make([]tools.Result, len(invs))
				for i, inv := range invs {
					results[i] = cancelled(inv, budget)
				}
				e.fold(t, results)
				return e.exhausted(ctx, t, CauseRounds)
			}

			t.pending = invs
			if err := e.advance(t, EventToolCalls); err != nil {
				return nil, err
			}

		case StateDispatch:
			t.rounds++
			results := e.dispatch(turnCtx, t.decision, t.pending)
			e.fold(t, results)
			t.pending = nil

			if ctx.Err() != nil {
				_ = e.advance(t, EventFailed)
				return nil, fmt.Errorf("turn cancelled: %w", ctx.Err())
			}
			if turnCtx.Err() != nil {
				return e.exhausted(ctx, t, CauseTimeout)
			}
			if err := e.advance(t, EventResultsFolded); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("orchestrator: unexpected state %s", t.current)
		}
	}
}

func (e *Engine) advance(t *turn, ev Event) error {
	next, err := Next(t.current, ev)
	if err != nil {
		return err
	}
	slog.Debug("State transition", "session", t.state.ID, "from", t.current, "event", ev, "to", next)
	t.current = next
	return nil
}

func (e *Engine) reason(ctx context.Context, t *turn) (*llms.Response, error) {
	ctx, span := e.tracer.Start(ctx, observability.SpanRound,
		trace.WithAttributes(
			attribute.String(observability.AttrSessionID, t.state.ID),
			attribute.Int(observability.AttrRound, t.rounds+1),
		),
	)
	defer span.End()

	resp, err := e.llm.Complete(ctx, toLLMMessages(t.state.Messages()), t.defs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(observability.AttrLLMToolCalls, len(resp.ToolCalls)))
	return resp, nil
}

// normalize turns requested calls into invocations with call IDs that
// are unique within the turn.
func (e *Engine) normalize(t *turn, calls []llms.ToolCall) []tools.Invocation {
	invs := make([]tools.Invocation, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" || t.callIDs[id] {
			id = "call_" + e.newID()
		}
		t.callIDs[id] = true
		invs[i] = tools.Invocation{CallID: id, ToolName: c.Name, Arguments: c.Args}
	}
	return invs
}

// fold appends one tool message per result, in slice order.
func (e *Engine) fold(t *turn, results []tools.Result) {
	for _, r := range results {
		t.state.Append(session.Message{
			Role:       session.RoleTool,
			Content:    r.Content(),
			ToolCallID: r.CallID,
			ToolName:   r.ToolName,
			Status:     string(r.Status),
			CreatedAt:  e.now(),
		})
		t.gathered = append(t.gathered, r)
	}
}

// exhausted ends the turn after a budget stop.
func (e *Engine) exhausted(ctx context.Context, t *turn, cause BudgetCause) (*Answer, error) {
	budget := &LoopBudgetExceeded{
		Rounds:  t.rounds,
		Limit:   e.cfg.MaxRounds,
		Cause:   cause,
		Timeout: e.cfg.TurnTimeout,
	}
	slog.Warn("Turn budget exceeded", "session", t.state.ID, "rounds", t.rounds, "cause", cause)
	if err := e.advance(t, EventBudgetExceeded); err != nil {
		return nil, err
	}

	content := e.bestEffort(ctx, t)
	t.state.Append(session.Message{Role: session.RoleAssistant, Content: content, CreatedAt: e.now()})
	return &Answer{
		Content:   content,
		Truncated: true,
		Warning:   budget.Warning(),
		Budget:    budget,
	}, nil
}

// bestEffort synthesizes from whatever the turn gathered, falling back to
// raw excerpts when synthesis fails.
func (e *Engine) bestEffort(ctx context.Context, t *turn) string {
	synthCtx, cancel := context.WithTimeout(ctx, bestEffortTimeout)
	defer cancel()

	text, err := e.synth.Synthesize(synthCtx, t.query, sectionsFrom(t.gathered))
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	slog.Warn("Best-effort synthesis failed, returning excerpts", "session", t.state.ID, "error", err)
	return excerpts(t.gathered)
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
