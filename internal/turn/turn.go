// Package turn defines the immutable conversational unit the core reads
// but does not own: history is supplied by the caller on every call to
// the Execution Pipeline and is never persisted by this module.
package turn

// Role identifies who produced a Turn's content.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Window returns at most n of the most recent turns, oldest first.
// A non-positive n returns the full history unchanged.
func Window(history []Turn, n int) []Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
