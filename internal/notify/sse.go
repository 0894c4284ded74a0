package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
)

const (
	sseClientBuffer = 16

	// A client that misses this many frames in a row is not reading its
	// stream anymore; evict it rather than let it shadow-subscribe.
	sseMaxConsecutiveDrops = 64
)

type sseClientState struct {
	consecutiveDrops int
	totalDrops       int
}

// SSEBroker fans out broadcast messages to connected SSE clients. Each
// client gets a small buffer; frames a slow client cannot take are
// dropped per client, and a client that stops reading entirely is
// evicted.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]*sseClientState
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]*sseClientState)}
}

// Deliver implements Sink.
func (b *SSEBroker) Deliver(_ context.Context, msg Message) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	b.broadcast(payload)
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, sseClientBuffer)
	b.mu.Lock()
	b.clients[ch] = &sseClientState{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel. Safe to call for a client the
// broker already evicted.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	_, present := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if present {
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (b *SSEBroker) ClientCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, state := range b.clients {
		select {
		case ch <- payload:
			state.consecutiveDrops = 0
		default:
			state.consecutiveDrops++
			state.totalDrops++
			if state.consecutiveDrops >= sseMaxConsecutiveDrops {
				delete(b.clients, ch)
				close(ch)
			}
		}
	}
}

// StreamHandler serves the SSE notification stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/notifications/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: notification\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
