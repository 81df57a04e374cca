package vecindex

import (
	"context"
	"fmt"

	"github.com/liliang-cn/bookmind/pkg/bridge"
)

// Message types understood by the index worker.
const (
	MsgIndexChunk = "INDEX_CHUNK" // fire-and-forget insert
	MsgSearch     = "SEARCH"      // request/response ranked query
	MsgClear      = "CLEAR"       // request/response reset
)

// InsertOp is the payload of an INDEX_CHUNK message.
type InsertOp struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// SearchOp is the payload of a SEARCH message. The response payload is
// []Match.
type SearchOp struct {
	Vector []float32 `json:"vector"`
	TopK   int       `json:"topK"`
}

// Handler adapts an Index to the bridge worker protocol. The worker
// serializes all calls, which is the only concurrency control the index
// needs.
type Handler struct {
	ix *Index
}

// NewHandler wraps the index for use behind a bridge client.
func NewHandler(ix *Index) *Handler {
	return &Handler{ix: ix}
}

// Handle dispatches one message against the index.
func (h *Handler) Handle(_ context.Context, env bridge.Envelope) (any, error) {
	switch env.Type {
	case MsgIndexChunk:
		op, ok := env.Payload.(InsertOp)
		if !ok {
			return nil, fmt.Errorf("%s: %w", env.Type, bridge.ErrBadPayload)
		}
		return nil, h.ix.Insert(op.ID, op.Vector)

	case MsgSearch:
		op, ok := env.Payload.(SearchOp)
		if !ok {
			return nil, fmt.Errorf("%s: %w", env.Type, bridge.ErrBadPayload)
		}
		return h.ix.Search(op.Vector, op.TopK), nil

	case MsgClear:
		h.ix.Clear()
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
