// Package routing defines the Routing Plan tagged value (spec §3, §4.6):
// the Mode Classifier's decision on which retrieval path(s) a turn takes.
package routing

// Plan is one of the four closed-set execution modes.
type Plan string

const (
	Structured   Plan = "structured"
	Unstructured Plan = "unstructured"
	Hybrid       Plan = "hybrid"
	History      Plan = "history"
)

// Valid reports whether p is one of the four closed-set tokens the
// Gateway's classify_mode operation is constrained to emit.
func (p Plan) Valid() bool {
	switch p {
	case Structured, Unstructured, Hybrid, History:
		return true
	default:
		return false
	}
}

// Parse converts a raw Gateway token into a Plan. It returns false if the
// token is not one of the closed-set values; callers must apply the
// Mode Classifier's tie-break policy (spec §4.6) on a false result.
func Parse(token string) (Plan, bool) {
	p := Plan(token)
	return p, p.Valid()
}
