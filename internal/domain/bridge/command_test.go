package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
)

func TestCommandEncodingKeepsValuesAsData(t *testing.T) {
	hostile := `'); alert(document.cookie); ('`
	data, err := bridge.SetStorageItem("k", hostile).Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{"op":"setStorageItem","args":{"key":"k","value":"'); alert(document.cookie); ('"}}`, string(data))

	back, err := bridge.DecodeCommand(data)
	require.NoError(t, err)
	require.NotNil(t, back.Args.Value)
	assert.Equal(t, hostile, *back.Args.Value)
}

func TestCommandConstructors(t *testing.T) {
	seek := bridge.SeekVideo("https://a.test/v.mp4", 42)
	assert.Equal(t, bridge.OpSeekVideo, seek.Op)
	require.NotNil(t, seek.Args.Time)
	assert.Equal(t, 42.0, *seek.Args.Time)

	mute := bridge.SetMuted("https://a.test/v.mp4", false)
	require.NotNil(t, mute.Args.Muted)
	assert.False(t, *mute.Args.Muted)

	data, err := bridge.VerifyInjection().Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"verifyInjection","args":{}}`, string(data))
}

func TestDecodeCommandRejectsGarbage(t *testing.T) {
	_, err := bridge.DecodeCommand([]byte("not json"))
	assert.ErrorIs(t, err, bridge.ErrMalformed)
}
