package engine

import (
	"errors"
	"fmt"

	"github.com/joss/turnstream/internal/domain"
)

var (
	// ErrNoAssistantMessage is returned by Regenerate when the last
	// persisted message is not an assistant message.
	ErrNoAssistantMessage = errors.New("last message is not an assistant message")

	// ErrNoUserPrompt is returned by Regenerate when no user prompt
	// precedes the assistant message being regenerated.
	ErrNoUserPrompt = errors.New("no preceding user prompt")

	// ErrMessageNotFound is returned by EditAndResend for an unknown
	// message id.
	ErrMessageNotFound = errors.New("message not found")
)

// AlreadyStreamingError rejects a start while a turn is active.
type AlreadyStreamingError struct {
	ConversationID string
}

func (e *AlreadyStreamingError) Error() string {
	return fmt.Sprintf("conversation %s is already streaming", e.ConversationID)
}

// Kind maps the error to the user-visible taxonomy.
func (e *AlreadyStreamingError) Kind() domain.ErrorKind { return domain.ErrorAlreadyStreaming }

// UnknownRequestError rejects a response for an unrecognized, already
// resolved, or superseded request id.
type UnknownRequestError struct {
	RequestID string
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown or already resolved request %s", e.RequestID)
}

// Kind maps the error to the user-visible taxonomy.
func (e *UnknownRequestError) Kind() domain.ErrorKind { return domain.ErrorUnknownRequest }
