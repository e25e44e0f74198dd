package schema

// Kind distinguishes a framed output line from a discrete status item.
type Kind string

const (
	KindLine   Kind = "line"
	KindStatus Kind = "status"
)

// Stream names the channel a message was produced on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
	StreamStatus Stream = "status"
)

// Message is the unit fanned out to subscribers. Its JSON encoding is the
// wire frame: exactly these four fields, one frame per message.
type Message struct {
	Producer string `json:"producer"`
	Kind     Kind   `json:"kind"`
	Stream   Stream `json:"stream"`
	Payload  string `json:"payload"`
}

// LineMessage builds a line message for the given stream.
func LineMessage(producer string, stream Stream, payload string) Message {
	return Message{Producer: producer, Kind: KindLine, Stream: stream, Payload: payload}
}

// StatusMessage builds a status message. Status items always use the status stream.
func StatusMessage(producer, payload string) Message {
	return Message{Producer: producer, Kind: KindStatus, Stream: StreamStatus, Payload: payload}
}

// Fields returns the message as a flat map, the environment filter
// expressions are evaluated against.
func (m Message) Fields() map[string]any {
	return map[string]any{
		"producer": m.Producer,
		"kind":     string(m.Kind),
		"stream":   string(m.Stream),
		"payload":  m.Payload,
	}
}

// InvocationStatus represents the lifecycle state of one invocation.
type InvocationStatus string

const (
	InvocationStatusPending   InvocationStatus = "pending"
	InvocationStatusRunning   InvocationStatus = "running"
	InvocationStatusCompleted InvocationStatus = "completed"
	InvocationStatusFailed    InvocationStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s InvocationStatus) Terminal() bool {
	return s == InvocationStatusCompleted || s == InvocationStatusFailed
}
