package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_WireShape(t *testing.T) {
	data, err := json.Marshal(LineMessage("greet", StreamStdout, "hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"producer":"greet","kind":"line","stream":"stdout","payload":"hello"}`, string(data))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 4)
}

func TestMessage_EmptyPayloadStillEncoded(t *testing.T) {
	data, err := json.Marshal(LineMessage("p", StreamStderr, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"producer":"p","kind":"line","stream":"stderr","payload":""}`, string(data))
}

func TestStatusMessage(t *testing.T) {
	m := StatusMessage("countdown", "3")
	assert.Equal(t, KindStatus, m.Kind)
	assert.Equal(t, StreamStatus, m.Stream)
	assert.Equal(t, "3", m.Payload)
}

func TestMessage_Fields(t *testing.T) {
	m := LineMessage("echo", StreamStdout, "x")
	assert.Equal(t, map[string]any{
		"producer": "echo",
		"kind":     "line",
		"stream":   "stdout",
		"payload":  "x",
	}, m.Fields())
}

func TestInvocationStatus_Terminal(t *testing.T) {
	assert.False(t, InvocationStatusPending.Terminal())
	assert.False(t, InvocationStatusRunning.Terminal())
	assert.True(t, InvocationStatusCompleted.Terminal())
	assert.True(t, InvocationStatusFailed.Terminal())
}
