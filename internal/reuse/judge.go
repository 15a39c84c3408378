// Package reuse implements the Reuse Judge (spec §4.5): the decision on
// whether a session's cached retrieval artifacts suffice to answer the
// new turn without a fresh retrieval.
package reuse

import (
	"context"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/cityhall/hybridqa/internal/gateway"
	"github.com/cityhall/hybridqa/internal/reuseverdict"
	"github.com/cityhall/hybridqa/internal/session"
	"github.com/cityhall/hybridqa/internal/turn"
)

// summaryMaxLen bounds the one-line AnswerSummary handed to plan_reuse;
// the Gateway only needs enough of the prior answer to judge topical
// continuity, not the full text.
const summaryMaxLen = 160

// Judge is the Reuse Judge contract: should_reuse(question, recent_turns, entry).
type Judge interface {
	ShouldReuse(ctx context.Context, question string, recentTurns []turn.Turn, entry *session.Entry) (reuseverdict.Verdict, error)
}

// DefaultJudge is the Gateway-backed implementation.
type DefaultJudge struct {
	Gateway gateway.Gateway
}

var _ Judge = (*DefaultJudge)(nil)

func (j *DefaultJudge) ShouldReuse(ctx context.Context, question string, recentTurns []turn.Turn, entry *session.Entry) (reuseverdict.Verdict, error) {
	if !entry.HasArtifacts() {
		return reuseverdict.Refresh(reuseverdict.ReasonNoHistory), nil
	}

	if temporalShift(question, entry.LastAnswer) {
		return reuseverdict.Refresh(reuseverdict.ReasonTemporalShift), nil
	}

	digest := computeDigest(entry)
	verdict, err := j.Gateway.PlanReuse(ctx, question, recentTurns, digest)
	if err != nil {
		if gateway.IsContractError(err) {
			return reuseverdict.Refresh(reuseverdict.ReasonParseFallback), nil
		}
		return reuseverdict.Verdict{}, err
	}
	return verdict, nil
}

func computeDigest(entry *session.Entry) gateway.Digest {
	digest := gateway.Digest{
		LastMode:      entry.LastMode,
		AnswerSummary: summarise(entry.LastAnswer),
	}
	if entry.StructuredResult != nil {
		digest.Tables = entry.StructuredResult.Tables
		digest.RowCount = len(entry.StructuredResult.Rows)
		if len(entry.StructuredResult.Rows) > 0 && len(entry.StructuredResult.Rows[0]) > 0 {
			// The executor's driver hands back column values as
			// whatever concrete type the SQL type mapped to; coerce
			// loosely rather than type-switching every case.
			digest.SampleValue = cast.ToString(entry.StructuredResult.Rows[0][0])
		}
	}
	if entry.UnstructuredResult != nil {
		digest.ChunkCount = len(entry.UnstructuredResult.Chunks)
		seen := make(map[string]bool, len(entry.UnstructuredResult.Chunks))
		for _, c := range entry.UnstructuredResult.Chunks {
			src := c.Source()
			if !seen[src] {
				seen[src] = true
				digest.Sources = append(digest.Sources, src)
			}
		}
	}
	return digest
}

func summarise(answer string) string {
	answer = strings.TrimSpace(answer)
	if len(answer) <= summaryMaxLen {
		return answer
	}
	return strings.TrimSpace(answer[:summaryMaxLen]) + "..."
}

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// temporalAnchors extracts the bounded set of calendar tokens (month
// names, four-digit years) mentioned in text, lowercased.
func temporalAnchors(text string) []string {
	lower := strings.ToLower(text)
	var anchors []string
	for _, m := range monthNames {
		if strings.Contains(lower, m) {
			anchors = append(anchors, m)
		}
	}
	for _, y := range yearPattern.FindAllString(lower, -1) {
		anchors = append(anchors, y)
	}
	return anchors
}

// temporalShift implements the forced-refresh policy (spec §4.5): a
// question carrying a calendar anchor not present among the anchors
// visible in the prior answer forces Refresh{TemporalShift} without
// calling the Gateway. A question with no anchor, or a prior answer with
// no anchor to compare against, is ambiguous and falls through to the
// Gateway instead.
func temporalShift(question, priorAnswer string) bool {
	questionAnchors := temporalAnchors(question)
	if len(questionAnchors) == 0 {
		return false
	}
	priorAnchors := temporalAnchors(priorAnswer)
	if len(priorAnchors) == 0 {
		return false
	}

	priorSet := make(map[string]bool, len(priorAnchors))
	for _, a := range priorAnchors {
		priorSet[a] = true
	}
	for _, a := range questionAnchors {
		if !priorSet[a] {
			return true
		}
	}
	return false
}
