package gateway

import "fmt"

// ContractError is ModelContractError from spec §7: the Gateway
// validated model output against its declared schema, the first
// attempt failed, a retry with a tightened reminder also failed. It is
// the only Gateway-side error the Execution Pipeline surfaces to the
// caller as an internal failure rather than recovering from silently.
type ContractError struct {
	Operation string // which of the six named operations failed
	Detail    string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("gateway: %s violated its output contract after retry: %s", e.Operation, e.Detail)
}

// NewContractError builds a ContractError for the given operation.
func NewContractError(operation, detail string) *ContractError {
	return &ContractError{Operation: operation, Detail: detail}
}
