package connmgr

import (
	"context"
	"time"
)

// enqueue places an outbound envelope onto the session's single writer
// queue. Under backpressure (§5), non-essential envelopes are dropped
// rather than blocking the writer or growing the queue unbounded.
func (h *sessionHandle) enqueue(env outboundEnvelope, priority string) {
	env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	env.Priority = priority

	select {
	case h.out <- outboundItem{env: env, priority: priority}:
		return
	default:
	}

	if priority == "essential" {
		// Queue is full: take the oldest queued item. If it is
		// non-essential it is discarded to make room for this one;
		// if it is essential, it is put back and this envelope is
		// dropped instead. Only the head of the queue is examined.
		select {
		case dropped := <-h.out:
			if dropped.priority == "essential" {
				// Put it back; we can't safely discard an essential
				// envelope. Best effort: drop the new one instead.
				select {
				case h.out <- dropped:
				default:
				}
				return
			}
		default:
		}
		select {
		case h.out <- outboundItem{env: env, priority: priority}:
		default:
		}
		return
	}
	// Non-essential and queue full: drop silently.
}

func (h *sessionHandle) writerLoop(ctx context.Context) {
	for item := range h.out {
		h.writeMu.Lock()
		err := h.conn.WriteJSON(item.env)
		h.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (h *sessionHandle) heartbeatLoop(ctx context.Context, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.enqueue(outboundEnvelope{Type: envHeartbeatResponse, Payload: h.snapshotStats()}, "low")
		}
	}
}
