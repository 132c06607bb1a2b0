package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of wire message.
type MessageType string

const (
	// Engine → runtime
	MsgTurn     MessageType = "turn"
	MsgCancel   MessageType = "cancel"
	MsgDecision MessageType = "decision"

	// Runtime → engine
	MsgChunk MessageType = "chunk"
)

// Envelope wraps all wire messages as JSON lines.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Timestamp string      `json:"ts"`
	Payload   any         `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope with a fresh ID and timestamp.
func NewEnvelope(msgType MessageType, payload any) *Envelope {
	return &Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// CancelPayload aborts the active turn of a conversation.
type CancelPayload struct {
	ConversationID string `json:"conversationID"`
}

// Encoder writes envelopes as JSON lines. Safe for concurrent use.
type Encoder struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEncoder creates an encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes an envelope as a single JSON line.
func (e *Encoder) Encode(env *Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	_, err = fmt.Fprintf(e.w, "%s\n", data)
	return err
}

// Send is a convenience method to create and encode an envelope.
func (e *Encoder) Send(msgType MessageType, payload any) error {
	return e.Encode(NewEnvelope(msgType, payload))
}

// Decoder reads envelopes from JSON lines.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder for the given reader.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Allow large messages (up to 1MB)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next envelope.
func (d *Decoder) Decode() (*Envelope, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		return &env, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// GetPayload extracts and unmarshals the payload into the target type.
// Payloads arrive as map[string]any from JSON, so they are re-marshaled
// before decoding into the typed struct.
func (e *Envelope) GetPayload(target any) error {
	if e.Payload == nil {
		return nil
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
