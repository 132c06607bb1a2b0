package domain

// ErrorKind categorizes turn failures for user-visible reporting.
type ErrorKind string

const (
	ErrorExecution        ErrorKind = "execution_error"
	ErrorMaxTurns         ErrorKind = "max_turns_exceeded"
	ErrorMaxBudget        ErrorKind = "max_budget_exceeded"
	ErrorMaxTokens        ErrorKind = "max_tokens_reached"
	ErrorRefusal          ErrorKind = "refusal"
	ErrorSuperseded       ErrorKind = "superseded"
	ErrorUnknownRequest   ErrorKind = "unknown_request"
	ErrorAlreadyStreaming ErrorKind = "already_streaming"
)

// StreamError is the payload of an error chunk, kept on the session when a
// turn ends in failure.
type StreamError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}
