package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/logic/sorter"
)

// Event levels. Log lines use info or error; sorter transitions use status.
const (
	LevelInfo   = "info"
	LevelError  = "error"
	LevelStatus = "status"
)

// StatusEvent is one SSE message.
type StatusEvent struct {
	Time   string         `json:"t"`
	Level  string         `json:"l,omitempty"`
	Msg    string         `json:"msg,omitempty"`
	Status *sorter.Status `json:"status,omitempty"`
}

// StatusBroadcaster fans events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of JSON-encoded events and a cleanup
// function the caller must run when the client goes away. Cleanup may be
// called more than once.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a log line to every client.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is Broadcast at info level.
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast(LevelInfo, msg)
}

// PublishStatus sends a sorter status snapshot. It matches the
// sorter.Config OnChange signature.
func (b *StatusBroadcaster) PublishStatus(st sorter.Status) {
	b.publish(StatusEvent{Level: LevelStatus, Status: &st})
}

// publish never blocks: a client whose buffer is full misses the event.
func (b *StatusBroadcaster) publish(evt StatusEvent) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastWriter adapts b to io.Writer so debug output reaches SSE
// clients. Each non-blank line becomes one event.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			level := LevelInfo
			if strings.Contains(msg, "ERROR") {
				level = LevelError
			}
			w.b.Broadcast(level, msg)
		}
	}
	return len(p), nil
}
