package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/model"
)

const (
	// sseRingBufferSize is the number of recent updates kept in memory for
	// Last-Event-ID reconnection support.
	sseRingBufferSize = 1000

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is a single update stored in the ring buffer and sent to SSE clients.
type sseEvent struct {
	ID     uint64 // monotonically increasing sequence number
	Tenant string
	Topic  string // update routing key
	Data   []byte // JSON-encoded envelope
}

// Hub streams updates to local SSE clients as they are handed to the broker.
// It keeps an in-memory ring buffer for Last-Event-ID reconnection. Delivery
// is best effort and independent of the broker's outcome.
type Hub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64

	// Ring buffer for replay on reconnection.
	ringMu  sync.RWMutex
	ring    [sseRingBufferSize]sseEvent
	ringPos int // next write position (wraps around)
	ringLen int // number of valid entries (up to sseRingBufferSize)
}

// sseClient represents a single connected SSE consumer.
type sseClient struct {
	tenant string
	topics []string       // routing key patterns to match (empty = all)
	ch     chan *sseEvent // buffered channel for delivery
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*sseClient]struct{}),
	}
}

// broadcast sends an update to all connected clients whose filters match.
func (h *Hub) broadcast(tenant, topic string, payload []byte) {
	id := h.nextID.Add(1)
	evt := &sseEvent{
		ID:     id,
		Tenant: tenant,
		Topic:  topic,
		Data:   payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % sseRingBufferSize
	if h.ringLen < sseRingBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matches(evt) {
			select {
			case c.ch <- evt:
			default:
				// Drop if client is slow.
			}
		}
	}
}

// subscribe registers a new SSE client and returns it. Call unsubscribe when done.
func (h *Hub) subscribe(tenant string, topics []string) *sseClient {
	c := &sseClient{
		tenant: tenant,
		topics: topics,
		ch:     make(chan *sseEvent, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// unsubscribe removes a client from the hub.
func (h *Hub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns buffered updates with ID > lastID, in order.
func (h *Hub) eventsSince(lastID uint64) []*sseEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	if h.ringLen == 0 {
		return nil
	}

	var result []*sseEvent
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += sseRingBufferSize
	}
	for i := range h.ringLen {
		evt := &h.ring[(start+i)%sseRingBufferSize]
		if evt.ID > lastID {
			result = append(result, evt)
		}
	}
	return result
}

func (c *sseClient) matches(evt *sseEvent) bool {
	if evt.Tenant != c.tenant {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated routing key against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard, as NATS subjects do.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// Tee returns a publisher that streams every update to the hub and then
// forwards it to next. The broker's result is returned unchanged.
func (h *Hub) Tee(next broker.Publisher) broker.Publisher {
	return &teePublisher{hub: h, next: next}
}

type teePublisher struct {
	hub  *Hub
	next broker.Publisher
}

func (p *teePublisher) PublishEvent(ctx context.Context, e *model.Event) error {
	return p.next.PublishEvent(ctx, e)
}

func (p *teePublisher) PublishUpdate(ctx context.Context, u *model.Update) error {
	if payload, err := json.Marshal(u.Envelope()); err != nil {
		slog.Warn("marshaling update for stream", "key", u.Key(), "error", err)
	} else {
		p.hub.broadcast(u.TenantID, broker.UpdateRoutingKey(u), payload)
	}
	return p.next.PublishUpdate(ctx, u)
}

func (p *teePublisher) Close() error {
	return p.next.Close()
}

// handleUpdateStream handles GET /v1/updates/stream (SSE endpoint). A
// user_id narrows the stream to that user's updates, the same binding a
// broker consumer would use.
func (s *Server) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "update stream not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	tenant := q.Get("tenant_id")
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	var topics []string
	if user := q.Get("user_id"); user != "" {
		userType := q.Get("user_type")
		if userType == "" {
			userType = model.DefaultUserType
		}
		topics = append(topics, broker.UserBindingPattern(userType, user))
	}
	if v := q.Get("topics"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	client := s.hub.subscribe(tenant, topics)
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, evt := range s.hub.eventsSince(lastID) {
				if client.matches(evt) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the writer.
func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
