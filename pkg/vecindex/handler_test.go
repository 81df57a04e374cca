package vecindex

import (
	"context"
	"errors"
	"testing"

	"github.com/liliang-cn/bookmind/pkg/bridge"
)

func TestHandlerInsertAndSearch(t *testing.T) {
	c := bridge.New(NewHandler(New()), bridge.Options{})
	defer c.Close()

	inserts := []InsertOp{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
		{ID: "c", Vector: []float32{0.7071, 0.7071}},
	}
	for _, op := range inserts {
		if err := c.Send(MsgIndexChunk, op); err != nil {
			t.Fatalf("Send %s failed: %v", op.ID, err)
		}
	}

	matches, err := bridge.RequestAs[[]Match](context.Background(), c, MsgSearch, SearchOp{
		Vector: []float32{1, 0.1},
		TopK:   2,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "c" {
		t.Errorf("Expected [a c], got [%s %s]", matches[0].ID, matches[1].ID)
	}
}

func TestHandlerClear(t *testing.T) {
	c := bridge.New(NewHandler(New()), bridge.Options{})
	defer c.Close()

	if err := c.Send(MsgIndexChunk, InsertOp{ID: "a", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := c.Request(context.Background(), MsgClear, nil); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	matches, err := bridge.RequestAs[[]Match](context.Background(), c, MsgSearch, SearchOp{
		Vector: []float32{1, 0},
		TopK:   5,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected empty result after clear, got %d matches", len(matches))
	}

	// The dimension latch resets with the clear.
	if err := c.Send(MsgIndexChunk, InsertOp{ID: "b", Vector: []float32{1, 2, 3}}); err != nil {
		t.Fatalf("Send after clear failed: %v", err)
	}
}

func TestHandlerSurfacesInsertErrors(t *testing.T) {
	errCh := make(chan error, 1)
	c := bridge.New(NewHandler(New()), bridge.Options{
		OnAsyncError: func(_ string, err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	})
	defer c.Close()

	if err := c.Send(MsgIndexChunk, InsertOp{ID: "a", Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := c.Send(MsgIndexChunk, InsertOp{ID: "bad", Vector: []float32{1, 2, 3}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	err := <-errCh
	if err == nil {
		t.Fatal("Expected a dimension mismatch error from the hook")
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	h := NewHandler(New())

	_, err := h.Handle(context.Background(), bridge.Envelope{Type: MsgSearch, Payload: "garbage"})
	if !errors.Is(err, bridge.ErrBadPayload) {
		t.Errorf("Expected ErrBadPayload, got %v", err)
	}

	_, err = h.Handle(context.Background(), bridge.Envelope{Type: "NOPE"})
	if err == nil {
		t.Error("Expected an error for an unknown message type")
	}
}
