package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/webnote/internal/workspaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventWorkspaceSaved = "workspace-saved"
	realtimeEventHeartbeat      = "heartbeat"
	realtimeSourceBackend       = "webnote-backend"
	realtimeBufferSize          = 16
	eventStreamMimeType         = "text/event-stream"
)

// RealtimeMessage announces that a workspace gained a new snapshot.
type RealtimeMessage struct {
	WorkspaceID string
	EventType   string
	Version     string
	NextNoteNum int64
	Timestamp   time.Time
}

type realtimeEventPayload struct {
	Workspace   string `json:"workspace"`
	Version     string `json:"version"`
	NextNoteNum int64  `json:"nextNoteNum"`
	Timestamp   int64  `json:"timestamp"`
	Source      string `json:"source"`
}

type heartbeatPayload struct {
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// RealtimeDispatcher fans saved-workspace notifications out to subscribers of that workspace.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
	}
}

// Subscribe registers a listener for workspaceID until ctx is done or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, workspaceID string) (<-chan RealtimeMessage, func()) {
	if workspaceID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(workspaceID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(workspaceID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message without blocking; slow subscribers miss it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.WorkspaceID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.WorkspaceID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(workspaceID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[workspaceID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(workspaceID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[workspaceID]; !ok {
		d.subscribers[workspaceID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[workspaceID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(workspaceID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[workspaceID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, workspaceID)
		}
	}
	d.mu.Unlock()
}

// handleEvents streams saves of the named workspace as server-sent events.
func (h *httpHandler) handleEvents(c *gin.Context, name string) {
	logger := h.requestLogger(c).With(zap.String("workspace", name))
	workspaceID := workspaces.WorkspaceIDFromName(name)

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, workspaceID)
	defer cleanup()

	c.Header("Content-Type", eventStreamMimeType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventHeartbeat, newHeartbeat(time.Now()))
	c.Writer.Flush()
	logger.Debug("event stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Workspace:   name,
				Version:     message.Version,
				NextNoteNum: message.NextNoteNum,
				Timestamp:   message.Timestamp.Unix(),
				Source:      realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, newHeartbeat(tick))
			return true
		}
	})
	logger.Debug("event stream closed")
}

func newHeartbeat(at time.Time) heartbeatPayload {
	return heartbeatPayload{Timestamp: at.UTC().Unix(), Source: realtimeSourceBackend}
}
