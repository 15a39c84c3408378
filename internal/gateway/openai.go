package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/cityhall/hybridqa/internal/chunk"
	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/reuseverdict"
	"github.com/cityhall/hybridqa/internal/tabular"
	"github.com/cityhall/hybridqa/internal/turn"
)

// Temperatures holds the per-operation temperature config (spec §6,
// llm_temperature_*). Every field must lie in [0.0, 0.3].
type Temperatures struct {
	PlanReuse    float64
	ClassifyMode float64
	DraftSQL     float64
	DraftRAG     float64
	MergeAnswers float64
}

// DefaultTemperatures returns the conservative defaults used when a
// caller does not override them; all lie within the allowed [0.0, 0.3]
// range, with the two classification operations at 0.0, since every
// operation here is a classification or a grounded-composition task, not
// open creative writing.
func DefaultTemperatures() Temperatures {
	return Temperatures{
		PlanReuse:    0.0,
		ClassifyMode: 0.0,
		DraftSQL:     0.2,
		DraftRAG:     0.2,
		MergeAnswers: 0.3,
	}
}

func (t Temperatures) clamp() Temperatures {
	clampOne := func(v float64) float64 {
		if v < 0.0 {
			return 0.0
		}
		if v > 0.3 {
			return 0.3
		}
		return v
	}
	t.PlanReuse = clampOne(t.PlanReuse)
	t.ClassifyMode = clampOne(t.ClassifyMode)
	t.DraftSQL = clampOne(t.DraftSQL)
	t.DraftRAG = clampOne(t.DraftRAG)
	t.MergeAnswers = clampOne(t.MergeAnswers)
	return t
}

// completionClient is the minimal surface the OpenAIGateway needs from
// the model vendor, narrow enough to fake in tests without standing up
// a real openai.Client.
type completionClient interface {
	complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, jsonMode bool) (string, error)
}

// liveClient adapts an *openai.Client to completionClient, grounded on
// the teacher's Api wrapper around client.Chat.Completions.New.
type liveClient struct {
	client *openai.Client
	model  string
}

func newLiveClient(apiKey, model string, opts ...option.RequestOption) *liveClient {
	requestOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(requestOpts...)
	return &liveClient{client: &client, model: model}
}

func (c *liveClient) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(temperature),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("gateway: chat completion call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("gateway: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIGateway is the concrete LLM Gateway backed by the OpenAI chat
// completions API, grounded on ai/extensions/models/openai in the
// retrieved pack's chat-model adapter.
type OpenAIGateway struct {
	client       completionClient
	temperatures Temperatures
}

var _ Gateway = (*OpenAIGateway)(nil)

// NewOpenAIGateway constructs a Gateway calling the given model via the
// OpenAI API using apiKey for authentication.
func NewOpenAIGateway(apiKey, model string, temperatures Temperatures, opts ...option.RequestOption) *OpenAIGateway {
	return &OpenAIGateway{
		client:       newLiveClient(apiKey, model, opts...),
		temperatures: temperatures.clamp(),
	}
}

func historyBlock(history []turn.Turn) string {
	var b strings.Builder
	for _, t := range history {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

// oneOf retries a single-token completion once with a tightened
// reminder if the first attempt does not parse via decode.
func oneOf[T any](ctx context.Context, g *OpenAIGateway, operation, system, user string, temperature float64, decode func(string) (T, bool)) (T, error) {
	var zero T

	raw, err := g.client.complete(ctx, system, user, temperature, false)
	if err != nil {
		return zero, err
	}
	if v, ok := decode(strings.TrimSpace(raw)); ok {
		return v, nil
	}

	reminder := system + "\n\nIMPORTANT: your previous response did not match the required output exactly. Respond with ONLY the required token, nothing else."
	raw, err = g.client.complete(ctx, reminder, user, temperature, false)
	if err != nil {
		return zero, err
	}
	if v, ok := decode(strings.TrimSpace(raw)); ok {
		return v, nil
	}

	return zero, NewContractError(operation, fmt.Sprintf("could not parse token from: %q", raw))
}

// jsonField retries a JSON-mode completion once if the first attempt's
// response does not contain a non-empty string value at field.
func jsonField(ctx context.Context, g *OpenAIGateway, operation, system, user string, temperature float64, field string) (string, error) {
	decode := func(raw string) (string, bool) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return "", false
		}
		v, ok := obj[field].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return v, true
	}

	raw, err := g.client.complete(ctx, system, user, temperature, true)
	if err != nil {
		return "", err
	}
	if v, ok := decode(raw); ok {
		return v, nil
	}

	reminder := system + fmt.Sprintf("\n\nIMPORTANT: respond with a JSON object containing exactly one field named %q, a non-empty string.", field)
	raw, err = g.client.complete(ctx, reminder, user, temperature, true)
	if err != nil {
		return "", err
	}
	if v, ok := decode(raw); ok {
		return v, nil
	}

	return "", NewContractError(operation, fmt.Sprintf("could not find field %q in: %q", field, raw))
}

func (g *OpenAIGateway) PlanReuse(ctx context.Context, question string, history []turn.Turn, digest Digest) (reuseverdict.Verdict, error) {
	system := "You decide whether a cached retrieval can answer a follow-up question without new retrieval. " +
		"Respond with exactly one word: reuse or refresh."
	user := fmt.Sprintf(
		"Conversation history:\n%s\nCached retrieval digest:\n  last_mode=%s tables=%v sources=%v row_count=%d chunk_count=%d sample=%q summary=%q\n\nQuestion: %s",
		historyBlock(history), digest.LastMode, digest.Tables, digest.Sources, digest.RowCount, digest.ChunkCount, digest.SampleValue, digest.AnswerSummary, question,
	)

	action, err := oneOf(ctx, g, "plan_reuse", system, user, g.temperatures.PlanReuse, reuseverdict.ParseAction)
	if err != nil {
		// The raw ModelContractError propagates; the Reuse Judge (not the
		// Gateway) applies the ParseFallback policy from spec §4.5.
		return reuseverdict.Verdict{}, err
	}

	if action == reuseverdict.ActionReuse {
		return reuseverdict.Reuse(reuseverdict.ReasonFollowUp), nil
	}
	return reuseverdict.Refresh(reuseverdict.ReasonNewTopic), nil
}

func (g *OpenAIGateway) ClassifyMode(ctx context.Context, question string, history []turn.Turn) (routing.Plan, error) {
	system := "Classify the question into exactly one word: structured, unstructured, hybrid, or history. " +
		"structured: needs a civic records database lookup (counts, dates, statuses). " +
		"unstructured: needs community documents (newsletters, meeting notes, analyses). " +
		"hybrid: needs both. history: can be answered from the conversation so far alone."
	user := fmt.Sprintf("Conversation history:\n%s\nQuestion: %s", historyBlock(history), question)

	plan, err := oneOf(ctx, g, "classify_mode", system, user, g.temperatures.ClassifyMode, routing.Parse)
	if err != nil {
		// The raw ModelContractError propagates; the Mode Classifier (not
		// the Gateway) applies the tie-break policy from spec §4.6.
		return "", err
	}
	return plan, nil
}

func (g *OpenAIGateway) DraftSQLQuery(ctx context.Context, question string, schema []TableSchema) (string, error) {
	system := "Draft a single read-only SQL SELECT statement answering the question using only the given schema. " +
		"Never draft INSERT, UPDATE, DELETE, DROP, ALTER, or any statement that is not a SELECT. " +
		"Respond as JSON: {\"query\": \"...\"}."
	var b strings.Builder
	for _, t := range schema {
		fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name, strings.Join(t.Columns, ", "), t.Description)
	}
	user := fmt.Sprintf("Schema:\n%s\nQuestion: %s", b.String(), question)
	return jsonField(ctx, g, "draft_sql_query", system, user, g.temperatures.DraftSQL, "query")
}

func (g *OpenAIGateway) DraftSQLAnswer(ctx context.Context, question string, result *tabular.Result) (string, error) {
	system := "Compose a one-paragraph answer grounded strictly in the given query results. " +
		"Never invent rows, tables, or values not present in the data. " +
		"Respond as JSON: {\"answer\": \"...\"}."
	user := fmt.Sprintf(
		"Question: %s\nColumns: %v\nRows (%d): %v\nTables consulted: %v\nTruncated: %v",
		question, result.Columns, len(result.Rows), result.Rows, result.Tables, result.Truncated,
	)
	return jsonField(ctx, g, "draft_sql_answer", system, user, g.temperatures.DraftSQL, "answer")
}

func (g *OpenAIGateway) DraftRAGAnswer(ctx context.Context, question string, chunks []chunk.Chunk) (string, error) {
	system := "Compose a one-paragraph answer grounded strictly in the given document chunks. " +
		"Never invent facts absent from the chunks. Respond as JSON: {\"answer\": \"...\"}."
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] source=%s doc_type=%s\n%s\n\n", i, c.Source(), c.DocType(), c.Text)
	}
	user := fmt.Sprintf("Question: %s\nChunks:\n%s", question, b.String())
	return jsonField(ctx, g, "draft_rag_answer", system, user, g.temperatures.DraftRAG, "answer")
}

func (g *OpenAIGateway) MergeAnswers(ctx context.Context, question, sqlFragment, ragFragment string) (string, error) {
	system := "Merge the two answer fragments below into a single cohesive paragraph answering the question. " +
		"Treat both fragments as equally authoritative; do not favor one source's ordering. " +
		"Respond as JSON: {\"answer\": \"...\"}."
	user := fmt.Sprintf("Question: %s\n\nStructured-data fragment:\n%s\n\nDocument fragment:\n%s", question, sqlFragment, ragFragment)
	return jsonField(ctx, g, "merge_answers", system, user, g.temperatures.MergeAnswers, "answer")
}

// IsContractError reports whether err is a ModelContractError, letting
// callers (the Reuse Judge, the Mode Classifier) apply their own
// operation-specific fallback instead of treating it as a generic
// internal failure.
func IsContractError(err error) bool {
	_, ok := err.(*ContractError)
	return ok
}
