package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/citation"
	"github.com/cityhall/hybridqa/internal/collaborators"
	"github.com/cityhall/hybridqa/internal/gateway"
	"github.com/cityhall/hybridqa/internal/reuseverdict"
	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/session"
	"github.com/cityhall/hybridqa/internal/structured"
	"github.com/cityhall/hybridqa/internal/tabular"
	"github.com/cityhall/hybridqa/internal/turn"
	"github.com/cityhall/hybridqa/internal/unstructured"
)

type stubJudge struct {
	verdict reuseverdict.Verdict
	err     error
}

func (j *stubJudge) ShouldReuse(context.Context, string, []turn.Turn, *session.Entry) (reuseverdict.Verdict, error) {
	return j.verdict, j.err
}

type stubClassifier struct {
	plan routing.Plan
	err  error
}

func (c *stubClassifier) Classify(context.Context, string, []turn.Turn) (routing.Plan, error) {
	return c.plan, c.err
}

type stubStructuredRetriever struct {
	result *structured.Result
	err    error
}

func (r *stubStructuredRetriever) Retrieve(context.Context, string, []turn.Turn) (*structured.Result, error) {
	return r.result, r.err
}

type stubUnstructuredRetriever struct {
	result *unstructured.Result
	err    error
}

func (r *stubUnstructuredRetriever) Retrieve(context.Context, string, int) (*unstructured.Result, error) {
	return r.result, r.err
}

type stubGateway struct {
	mergeAnswer string
	mergeErr    error
}

func (g *stubGateway) PlanReuse(context.Context, string, []turn.Turn, gateway.Digest) (reuseverdict.Verdict, error) {
	return reuseverdict.Verdict{}, nil
}
func (g *stubGateway) DraftSQLQuery(context.Context, string, []gateway.TableSchema) (string, error) {
	return "", nil
}
func (g *stubGateway) ClassifyMode(context.Context, string, []turn.Turn) (routing.Plan, error) {
	return "", nil
}
func (g *stubGateway) DraftSQLAnswer(context.Context, string, *tabular.Result) (string, error) {
	return "", nil
}
func (g *stubGateway) DraftRAGAnswer(context.Context, string, []chunk.Chunk) (string, error) {
	return "", nil
}
func (g *stubGateway) MergeAnswers(context.Context, string, string, string) (string, error) {
	return g.mergeAnswer, g.mergeErr
}

type stubSchema struct {
	hints []string
}

func (s *stubSchema) ListTables(context.Context) ([]collaborators.TableInfo, error) { return nil, nil }
func (s *stubSchema) KeywordHint(context.Context, string) ([]string, error)         { return s.hints, nil }

func newTestPipeline() *Pipeline {
	p := New()
	p.Cache = session.New()
	return p
}

func TestHandleTurn_EmptyQuestion(t *testing.T) {
	p := newTestPipeline()
	env := p.HandleTurn(context.Background(), "s1", "   ", nil)
	assert.Equal(t, EmptyQuestionAnswer, env.Answer)
	assert.Equal(t, routing.History, env.Mode)
	assert.Empty(t, env.Sources)
}

func TestHandleTurn_StructuredMode_CachesArtifactsAndSources(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Structured}
	p.Structured = &stubStructuredRetriever{result: &structured.Result{
		Tables:         []string{"incidents"},
		AnswerFragment: "There were 12 incidents.",
	}}

	env := p.HandleTurn(context.Background(), "s1", "How many incidents in November?", nil)

	assert.Equal(t, routing.Structured, env.Mode)
	assert.Equal(t, "There were 12 incidents.", env.Answer)
	require.Len(t, env.Sources, 1)
	assert.Equal(t, citation.SQL("incidents"), env.Sources[0])

	entry := p.Cache.Get("s1")
	require.NotNil(t, entry)
	assert.Equal(t, "There were 12 incidents.", entry.LastAnswer)
	assert.Equal(t, routing.Structured, entry.LastMode)
}

func TestHandleTurn_ReuseHit_ReturnsCachedAnswerAndSources(t *testing.T) {
	p := newTestPipeline()
	answer := "Previously answered."
	mode := routing.Structured
	p.Cache.Put("s1", session.Update{
		LastAnswer:       &answer,
		LastMode:         &mode,
		StructuredResult: &structured.Result{Tables: []string{"incidents"}},
	})
	p.Judge = &stubJudge{verdict: reuseverdict.Reuse(reuseverdict.ReasonFollowUp)}

	env := p.HandleTurn(context.Background(), "s1", "Summarise what you just told me.", []turn.Turn{
		{Role: turn.RoleUser, Content: "How many incidents?"},
	})

	assert.Equal(t, routing.History, env.Mode)
	assert.Equal(t, "Previously answered.", env.Answer)
	require.Len(t, env.Sources, 1)
	assert.Equal(t, citation.SQL("incidents"), env.Sources[0])
}

func TestHandleTurn_SchemaMissPromotesToUnstructured(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Structured}
	p.Structured = &stubStructuredRetriever{err: &structured.Failure{Kind: structured.SchemaMiss}}
	p.Unstructured = &stubUnstructuredRetriever{result: &unstructured.Result{
		Chunks:         []chunk.Chunk{{Text: "x", Metadata: map[string]any{"source": "newsletter-1"}}},
		AnswerFragment: "Residents discussed traffic.",
	}}

	env := p.HandleTurn(context.Background(), "s1", "What do people think?", nil)

	assert.Equal(t, routing.Unstructured, env.Mode)
	assert.Equal(t, "Residents discussed traffic.", env.Answer)
	require.Len(t, env.Sources, 1)
	assert.Equal(t, citation.RAG("newsletter-1", ""), env.Sources[0])
}

func TestHandleTurn_HybridMergesBothSides(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Hybrid}
	p.Structured = &stubStructuredRetriever{result: &structured.Result{
		Tables:         []string{"events"},
		AnswerFragment: "There are 3 events this weekend.",
	}}
	p.Unstructured = &stubUnstructuredRetriever{result: &unstructured.Result{
		Chunks:         []chunk.Chunk{{Text: "x", Metadata: map[string]any{"source": "newsletter-1"}}},
		AnswerFragment: "The latest newsletter covers park renovations.",
	}}
	p.Gateway = &stubGateway{mergeAnswer: "merged answer"}

	env := p.HandleTurn(context.Background(), "s1", "What events are on and what's the news?", nil)

	require.Equal(t, routing.Hybrid, env.Mode)
	assert.Equal(t, "merged answer", env.Answer)
	require.Len(t, env.Sources, 2)
	assert.Equal(t, citation.SQL("events"), env.Sources[0])
	assert.Equal(t, citation.RAG("newsletter-1", ""), env.Sources[1])
}

func TestHandleTurn_HybridPartialFailure_ReportsSurvivingMode(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Hybrid}
	p.Structured = &stubStructuredRetriever{result: &structured.Result{
		Tables:         []string{"events"},
		AnswerFragment: "There are 3 events this weekend.",
	}}
	p.Unstructured = &stubUnstructuredRetriever{err: &unstructured.Failure{Kind: unstructured.IndexUnavailable}}

	env := p.HandleTurn(context.Background(), "s1", "What events are on?", nil)

	assert.Equal(t, routing.Structured, env.Mode)
	assert.Equal(t, "There are 3 events this weekend.", env.Answer)
	require.Len(t, env.Sources, 1)
}

func TestHandleTurn_ExecutorError_ReturnsGenericFailure_CacheUnchanged(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Structured}
	p.Structured = &stubStructuredRetriever{err: &structured.Failure{Kind: structured.ExecutorError, Err: errors.New("db down")}}

	env := p.HandleTurn(context.Background(), "s1", "How many incidents?", nil)

	assert.Equal(t, UnavailableAnswer, env.Answer)
	assert.Empty(t, env.Sources)
	assert.Equal(t, routing.Structured, env.Mode)
	assert.Nil(t, p.Cache.Get("s1"))
}

func TestHandleTurn_ModelContractError_CacheUnchanged(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Structured}
	p.Structured = &stubStructuredRetriever{err: gateway.NewContractError("draft_sql_answer", "garbage")}

	env := p.HandleTurn(context.Background(), "s1", "How many incidents?", nil)

	assert.Equal(t, UnavailableAnswer, env.Answer)
	assert.Nil(t, p.Cache.Get("s1"))
}

func TestHandleTurn_ColdCacheHistoryDemotesToHybrid(t *testing.T) {
	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.History}
	p.Structured = &stubStructuredRetriever{result: &structured.Result{
		Tables:         []string{"incidents"},
		AnswerFragment: "There were 12 incidents.",
	}}
	p.Unstructured = &stubUnstructuredRetriever{result: &unstructured.Result{AnswerFragment: unstructured.EmptyChunksAnswer}}
	p.Gateway = &stubGateway{mergeAnswer: "n/a"}

	env := p.HandleTurn(context.Background(), "s1", "Tell me something.", nil)

	assert.Equal(t, routing.Structured, env.Mode)
	assert.NotEqual(t, routing.History, env.Mode)
}

// slowStructuredRetriever blocks until its context is cancelled, letting
// tests exercise the per-turn deadline without a real 30-second wait.
type slowStructuredRetriever struct{}

func (slowStructuredRetriever) Retrieve(ctx context.Context, _ string, _ []turn.Turn) (*structured.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type slowUnstructuredRetriever struct{}

func (slowUnstructuredRetriever) Retrieve(ctx context.Context, _ string, _ int) (*unstructured.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestHandleTurn_DeadlineExceeded_CacheUnchangedNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPipeline()
	p.Judge = &stubJudge{verdict: reuseverdict.Refresh(reuseverdict.ReasonNoHistory)}
	p.Classifier = &stubClassifier{plan: routing.Hybrid}
	p.Structured = slowStructuredRetriever{}
	p.Unstructured = slowUnstructuredRetriever{}
	p.config.TurnDeadline = 20 * time.Millisecond

	env := p.HandleTurn(context.Background(), "s1", "What events are on?", nil)

	assert.Equal(t, UnavailableAnswer, env.Answer)
	assert.Nil(t, p.Cache.Get("s1"))
}
