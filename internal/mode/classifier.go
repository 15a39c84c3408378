// Package mode implements the Mode Classifier (spec §4.6): deciding
// which retrieval path(s) a turn takes, without ever invoking a
// retriever itself.
package mode

import (
	"context"

	"github.com/cityhall/hybridqa/internal/gateway"
	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/turn"
)

// Classifier is the Mode Classifier contract: classify(question, recent_turns).
type Classifier interface {
	Classify(ctx context.Context, question string, recentTurns []turn.Turn) (routing.Plan, error)
}

// DefaultClassifier is the Gateway-backed implementation.
type DefaultClassifier struct {
	Gateway gateway.Gateway
}

var _ Classifier = (*DefaultClassifier)(nil)

// Classify never calls a retriever; it only produces a Routing Plan
// (spec §4.6). An unparsable Gateway output after retry is not
// surfaced as a failure: the tie-break policy returns Hybrid, the
// safest superset, and never History.
func (c *DefaultClassifier) Classify(ctx context.Context, question string, recentTurns []turn.Turn) (routing.Plan, error) {
	plan, err := c.Gateway.ClassifyMode(ctx, question, recentTurns)
	if err != nil {
		if gateway.IsContractError(err) {
			return routing.Hybrid, nil
		}
		return "", err
	}
	return plan, nil
}
