package sidecar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	for _, s := range []string{"x360", "ds4", "dkbridge"} {
		tg, err := ParseTarget(s)
		require.NoError(t, err)
		assert.Equal(t, Target(s), tg)
	}
	_, err := ParseTarget("vjoy")
	assert.Error(t, err)
}

func TestDecodeStdoutLine_Ready(t *testing.T) {
	ev, ok := decodeStdoutLine([]byte(`{"type":"ready"}`))
	require.True(t, ok)
	assert.Equal(t, EventReady, ev.Kind)
}

func TestDecodeStdoutLine_FFB(t *testing.T) {
	ev, ok := decodeStdoutLine([]byte(`{"type":"ffb","rumbleL":0.5,"rumbleR":0.2}`))
	require.True(t, ok)
	assert.Equal(t, EventFFB, ev.Kind)
	assert.Equal(t, 0.5, ev.RumbleL)
	assert.Equal(t, 0.2, ev.RumbleR)
}

func TestDecodeStdoutLine_UnknownTypeIsGarbage(t *testing.T) {
	_, ok := decodeStdoutLine([]byte(`{"type":"huh"}`))
	assert.False(t, ok)
}

func TestDecodeStdoutLine_MalformedIsGarbage(t *testing.T) {
	_, ok := decodeStdoutLine([]byte(`not json`))
	assert.False(t, ok)
}

func TestEncodeTargetControl(t *testing.T) {
	payload, err := encodeTargetControl(TargetX360)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"target","value":"x360"}`, string(payload))
}
