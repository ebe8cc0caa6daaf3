package play

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerAcceptsAnyPacket(t *testing.T) {
	h := NewHandler()

	require.NoError(t, h.Dispatch(pktKeepAlive, []byte{0, 0, 0, 0, 0, 0, 0, 7}))
	require.NoError(t, h.Dispatch(pktChatMessage, []byte("hi")))
	require.NoError(t, h.Dispatch(0x7E, nil))

	assert.Equal(t, uint64(3), h.PacketsReceived())
	assert.Equal(t, uint64(10), h.BytesReceived())
}
