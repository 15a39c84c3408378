// Package pipeline implements the Execution Pipeline (spec §4.7): the
// top-level orchestrator that loads the cache, runs the Reuse Judge and
// Mode Classifier, dispatches to the appropriate retrievers, merges
// results, composes sources, updates the cache, and returns the reply
// envelope for one turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/citation"
	"github.com/cityhall/hybridqa/internal/collaborators"
	"github.com/cityhall/hybridqa/internal/gateway"
	"github.com/cityhall/hybridqa/internal/mode"
	"github.com/cityhall/hybridqa/internal/reuse"
	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/session"
	"github.com/cityhall/hybridqa/internal/structured"
	"github.com/cityhall/hybridqa/internal/turn"
	"github.com/cityhall/hybridqa/internal/unstructured"
)

// Defaults for the configuration surface (spec §6) owned by this package.
const (
	DefaultTurnDeadline  = 30 * time.Second
	DefaultHistoryWindow = 10
)

// Literal reply strings (spec §7, §8).
const (
	EmptyQuestionAnswer = "Please enter a question."
	UnavailableAnswer   = "Unable to retrieve information at this time."
)

// Envelope is the Reply Envelope (spec §3, §6).
type Envelope struct {
	Answer  string
	Sources []citation.Citation
	Mode    routing.Plan
}

// Config holds the subset of the configuration surface (spec §6) the
// Execution Pipeline itself consumes. row_limit and max_distance are
// fields of the retrievers and idle_ttl/max_sessions are Session Cache
// options, set when constructing those; k_default and k_max are the fixed
// constants unstructured.DefaultTopK and unstructured.MaxTopK and cannot
// be configured.
type Config struct {
	TurnDeadline  time.Duration
	HistoryWindow int
}

// Option configures a Pipeline at construction.
type Option func(*Config)

// WithTurnDeadline overrides DefaultTurnDeadline (turn_deadline_seconds).
func WithTurnDeadline(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.TurnDeadline = d
		}
	}
}

// WithHistoryWindow overrides DefaultHistoryWindow (history_window).
func WithHistoryWindow(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.HistoryWindow = n
		}
	}
}

func defaultConfig() Config {
	return Config{TurnDeadline: DefaultTurnDeadline, HistoryWindow: DefaultHistoryWindow}
}

// Pipeline wires every collaborator the Execution Pipeline needs. All
// fields except Log and Schema are required; Log defaults to a no-op
// sink, and a nil Schema disables the Unstructured→Hybrid promotion.
type Pipeline struct {
	Cache        *session.Cache
	Judge        reuse.Judge
	Classifier   mode.Classifier
	Structured   structured.Retriever
	Unstructured unstructured.Retriever
	Gateway      gateway.Gateway
	Schema       collaborators.SchemaMetadata
	Log          collaborators.InteractionLog

	config Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Pipeline. Callers must populate the exported fields
// before the first call to HandleTurn.
func New(opts ...Option) *Pipeline {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{config: cfg, locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the per-session mutex serialising turns for sessionID
// (spec §5: "a second turn for the same session MUST NOT begin until
// the first has completed or been timed out").
func (p *Pipeline) lockFor(sessionID string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	lock, ok := p.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[sessionID] = lock
	}
	return lock
}

// correlatedLog tags every record from one turn with the same opaque
// correlation id, so a diagnostics sink can group the handful of log
// lines a single HandleTurn call may emit.
type correlatedLog struct {
	turnID string
	sink   collaborators.InteractionLog
}

func (c correlatedLog) Record(ctx context.Context, summary string) {
	c.sink.Record(ctx, fmt.Sprintf("turn=%s %s", c.turnID, summary))
}

// HandleTurn is handle_turn(session_id, question, history) → Reply Envelope.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID, question string, history []turn.Turn) Envelope {
	lock := p.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sink := p.Log
	if sink == nil {
		sink = collaborators.NopInteractionLog{}
	}
	log := correlatedLog{turnID: uuid.NewString(), sink: sink}

	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return Envelope{Answer: EmptyQuestionAnswer, Mode: routing.History}
	}

	deadline := p.config.TurnDeadline
	if deadline <= 0 {
		deadline = DefaultTurnDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	recentTurns := turn.Window(history, p.config.HistoryWindow)
	entry := p.Cache.Get(sessionID)

	verdict, err := p.Judge.ShouldReuse(ctx, trimmed, recentTurns, entry)
	if err != nil {
		log.Record(ctx, fmt.Sprintf("session %s: reuse judge failed: %v", sessionID, err))
		return Envelope{Answer: UnavailableAnswer, Mode: routing.History}
	}

	if verdict.ShouldReuse() && entry != nil {
		log.Record(ctx, fmt.Sprintf("session %s: answered from cache (%s)", sessionID, verdict.Reason))
		return Envelope{Answer: entry.LastAnswer, Sources: sourcesFromEntry(entry), Mode: routing.History}
	}

	plan, err := p.Classifier.Classify(ctx, trimmed, recentTurns)
	if err != nil {
		log.Record(ctx, fmt.Sprintf("session %s: mode classifier failed: %v", sessionID, err))
		return Envelope{Answer: UnavailableAnswer, Mode: routing.History}
	}

	if plan == routing.History {
		if entry == nil {
			// Cold cache: defensive demotion (spec §4.7).
			plan = routing.Hybrid
		} else {
			return Envelope{Answer: entry.LastAnswer, Sources: sourcesFromEntry(entry), Mode: routing.History}
		}
	}

	outcome := p.dispatch(ctx, sessionID, trimmed, recentTurns, plan, log)

	if outcome.surfaceErr != nil {
		// ModelContractError / NonReadOnlyQuery: cache untouched, the
		// pre-turn entry (if any) is preserved verbatim (spec §7).
		return Envelope{Answer: UnavailableAnswer, Mode: outcome.mode}
	}

	if ctx.Err() != nil {
		// Turn deadline exceeded: cache untouched (spec §5).
		return Envelope{Answer: UnavailableAnswer, Mode: outcome.mode}
	}

	if outcome.skipCache {
		// ExecutorError / IndexUnavailable / total Hybrid failure: the
		// turn is downgraded but produced no retrieval artifacts worth
		// caching, so the pre-turn entry is preserved verbatim.
		return Envelope{Answer: outcome.answer, Sources: outcome.sources, Mode: outcome.mode}
	}

	update := session.Update{LastAnswer: &outcome.answer, LastMode: &outcome.mode}
	if outcome.structuredResult != nil {
		update.StructuredResult = outcome.structuredResult
	}
	if outcome.unstructuredResult != nil {
		update.UnstructuredResult = outcome.unstructuredResult
	}
	p.Cache.Put(sessionID, update)

	return Envelope{Answer: outcome.answer, Sources: outcome.sources, Mode: outcome.mode}
}

// turnOutcome carries the result of dispatching to the retriever(s) for
// one turn, ready either to surface as a failure or to be cached.
type turnOutcome struct {
	answer             string
	sources            []citation.Citation
	mode               routing.Plan
	structuredResult   *structured.Result
	unstructuredResult *unstructured.Result
	surfaceErr         error
	// skipCache marks an outcome that produced no real retrieval
	// artifacts (a downgraded failure answer): the pre-turn cache entry
	// must be preserved verbatim rather than overwritten with a failure
	// answer (spec §7's "cache not updated" generalised to every
	// downgrade path, not just ModelContractError/NonReadOnlyQuery).
	skipCache bool
}

func (p *Pipeline) dispatch(ctx context.Context, sessionID, question string, recentTurns []turn.Turn, plan routing.Plan, log collaborators.InteractionLog) turnOutcome {
	switch plan {
	case routing.Structured:
		return p.dispatchStructured(ctx, question, recentTurns, log)
	case routing.Unstructured:
		return p.dispatchUnstructured(ctx, question, recentTurns, log)
	default: // routing.Hybrid
		return p.dispatchHybrid(ctx, question, recentTurns, log)
	}
}

func (p *Pipeline) dispatchStructured(ctx context.Context, question string, recentTurns []turn.Turn, log collaborators.InteractionLog) turnOutcome {
	result, err := p.Structured.Retrieve(ctx, question, recentTurns)
	if err == nil {
		return turnOutcome{
			answer:           result.AnswerFragment,
			sources:          citation.Dedup(sqlCitations(result.Tables)),
			mode:             routing.Structured,
			structuredResult: result,
		}
	}

	var failure *structured.Failure
	if errors.As(err, &failure) {
		switch failure.Kind {
		case structured.SchemaMiss:
			// Silent promotion to Unstructured (spec §4.7).
			out := p.dispatchUnstructured(ctx, question, recentTurns, log)
			return out
		case structured.NonReadOnlyQuery:
			log.Record(ctx, fmt.Sprintf("non-read-only draft rejected: %v", failure))
			return turnOutcome{mode: routing.Structured, surfaceErr: err}
		default: // ExecutorError, DraftInvalid
			return turnOutcome{answer: UnavailableAnswer, mode: routing.Structured, skipCache: true}
		}
	}

	if gateway.IsContractError(err) {
		return turnOutcome{mode: routing.Structured, surfaceErr: err}
	}
	// Timeout or other unclassified failure: downgrade.
	return turnOutcome{answer: UnavailableAnswer, mode: routing.Structured, skipCache: true}
}

func (p *Pipeline) dispatchUnstructured(ctx context.Context, question string, recentTurns []turn.Turn, log collaborators.InteractionLog) turnOutcome {
	result, err := p.Unstructured.Retrieve(ctx, question, 0)
	if err != nil {
		if gateway.IsContractError(err) {
			return turnOutcome{mode: routing.Unstructured, surfaceErr: err}
		}
		return turnOutcome{answer: UnavailableAnswer, mode: routing.Unstructured, skipCache: true}
	}

	if len(result.Chunks) == 0 && p.questionLooksStructured(ctx, question) {
		// Promote to Hybrid for one retry (spec §4.7).
		structuredOutcome := p.dispatchStructured(ctx, question, recentTurns, log)
		if structuredOutcome.surfaceErr != nil {
			return structuredOutcome
		}
		if structuredOutcome.structuredResult != nil {
			return turnOutcome{
				answer:           structuredOutcome.answer,
				sources:          structuredOutcome.sources,
				mode:             routing.Structured,
				structuredResult: structuredOutcome.structuredResult,
			}
		}
		// Structured side didn't actually contribute either; fall back
		// to reporting the empty-chunk unstructured result.
	}

	return turnOutcome{
		answer:             result.AnswerFragment,
		sources:            citation.Dedup(ragCitations(result.Chunks)),
		mode:               routing.Unstructured,
		unstructuredResult: result,
	}
}

// questionLooksStructured implements the "mentions identifiers
// consistent with structured data" check (spec §4.7) via the schema
// collaborator's keyword hint list.
func (p *Pipeline) questionLooksStructured(ctx context.Context, question string) bool {
	if p.Schema == nil {
		return false
	}
	hints, err := p.Schema.KeywordHint(ctx, question)
	return err == nil && len(hints) > 0
}

func (p *Pipeline) dispatchHybrid(ctx context.Context, question string, recentTurns []turn.Turn, log collaborators.InteractionLog) turnOutcome {
	var (
		structResult   *structured.Result
		unstructResult *unstructured.Result
		structErr      error
		unstructErr    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		structResult, structErr = p.Structured.Retrieve(gctx, question, recentTurns)
		return nil
	})
	g.Go(func() error {
		unstructResult, unstructErr = p.Unstructured.Retrieve(gctx, question, 0)
		return nil
	})
	_ = g.Wait() // neither goroutine returns a non-nil error; failures are captured above

	structOK := structErr == nil && structResult != nil
	unstructOK := unstructErr == nil && unstructResult != nil && len(unstructResult.Chunks) > 0

	if structErr != nil && gateway.IsContractError(structErr) {
		return turnOutcome{mode: routing.Hybrid, surfaceErr: structErr}
	}
	if unstructErr != nil && gateway.IsContractError(unstructErr) {
		return turnOutcome{mode: routing.Hybrid, surfaceErr: unstructErr}
	}
	var roFailure *structured.Failure
	if errors.As(structErr, &roFailure) && roFailure.Kind == structured.NonReadOnlyQuery {
		log.Record(ctx, fmt.Sprintf("non-read-only draft rejected: %v", roFailure))
		return turnOutcome{mode: routing.Hybrid, surfaceErr: structErr}
	}

	switch {
	case structOK && unstructOK:
		merged, err := p.Gateway.MergeAnswers(ctx, question, structResult.AnswerFragment, unstructResult.AnswerFragment)
		if err != nil {
			if gateway.IsContractError(err) {
				return turnOutcome{mode: routing.Hybrid, surfaceErr: err}
			}
			return turnOutcome{answer: UnavailableAnswer, mode: routing.Hybrid, skipCache: true}
		}
		sources := citation.Dedup(append(sqlCitations(structResult.Tables), ragCitations(unstructResult.Chunks)...))
		return turnOutcome{
			answer:             merged,
			sources:            sources,
			mode:               routing.Hybrid,
			structuredResult:   structResult,
			unstructuredResult: unstructResult,
		}
	case structOK:
		// Unstructured side failed or contributed nothing: the surviving
		// mode is reported (spec §4.7/§9).
		return turnOutcome{
			answer:           structResult.AnswerFragment,
			sources:          citation.Dedup(sqlCitations(structResult.Tables)),
			mode:             routing.Structured,
			structuredResult: structResult,
		}
	case unstructOK:
		return turnOutcome{
			answer:             unstructResult.AnswerFragment,
			sources:            citation.Dedup(ragCitations(unstructResult.Chunks)),
			mode:               routing.Unstructured,
			unstructuredResult: unstructResult,
		}
	default:
		return turnOutcome{answer: UnavailableAnswer, mode: routing.Hybrid, skipCache: true}
	}
}

func sqlCitations(tables []string) []citation.Citation {
	out := make([]citation.Citation, 0, len(tables))
	for _, t := range tables {
		out = append(out, citation.SQL(t))
	}
	return out
}

func ragCitations(chunks []chunk.Chunk) []citation.Citation {
	out := make([]citation.Citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, citation.RAG(c.Source(), c.DocType()))
	}
	return out
}

func sourcesFromEntry(entry *session.Entry) []citation.Citation {
	if entry == nil {
		return nil
	}
	var out []citation.Citation
	if entry.StructuredResult != nil {
		out = append(out, sqlCitations(entry.StructuredResult.Tables)...)
	}
	if entry.UnstructuredResult != nil {
		for _, c := range entry.UnstructuredResult.Chunks {
			out = append(out, citation.RAG(c.Source(), c.DocType()))
		}
	}
	return citation.Dedup(out)
}
