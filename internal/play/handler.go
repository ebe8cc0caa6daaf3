// Package play receives post-login packets. The connection engine does not
// interpret gameplay traffic; this handler logs and counts it so that
// higher layers can be attached later.
package play

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/emberline-project/emberline/internal/util"
)

// Serverbound packet ids the handler recognizes by name in logs.
const (
	pktKeepAlive   int32 = 0x0F
	pktChatMessage int32 = 0x03
)

// Handler is the default play-state dispatcher. It accepts every packet,
// logs it at trace level, and keeps running counters.
type Handler struct {
	logger   zerolog.Logger
	received atomic.Uint64
	bytes    atomic.Uint64
}

// NewHandler creates a Handler.
func NewHandler() *Handler {
	return &Handler{logger: util.ComponentLogger("play")}
}

// Dispatch consumes one decoded packet. It never rejects traffic; unknown
// ids are expected since the engine does not track the full play protocol.
func (h *Handler) Dispatch(packetID int32, payload []byte) error {
	h.received.Add(1)
	h.bytes.Add(uint64(len(payload)))

	ev := h.logger.Trace().
		Int32("packet_id", packetID).
		Int("payload_len", len(payload))

	switch packetID {
	case pktKeepAlive:
		ev.Msg("keep-alive received")
	case pktChatMessage:
		ev.Msg("chat message received")
	default:
		ev.Msg("play packet received")
	}
	return nil
}

// PacketsReceived returns the total number of dispatched packets.
func (h *Handler) PacketsReceived() uint64 {
	return h.received.Load()
}

// BytesReceived returns the total payload bytes dispatched.
func (h *Handler) BytesReceived() uint64 {
	return h.bytes.Load()
}
