// Package sse provides Server-Sent Events broadcasting of timer state to
// any listening presentation layer. Delivery is best-effort: no listener and
// dead listeners are both fine.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pomodui/pomod/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// WriteTimeout bounds writes to SSE clients so a stale connection
	// cannot block a broadcast.
	WriteTimeout = 2 * time.Second
)

// EventType distinguishes the messages pushed over the stream.
type EventType string

const (
	EventConnected EventType = "connected"
	EventState     EventType = "state"
)

// Event is one SSE payload.
type Event struct {
	Type     EventType          `json:"type"`
	ClientID string             `json:"client_id,omitempty"`
	State    *models.TimerState `json:"state,omitempty"`
}

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// Broadcaster manages SSE client connections and state broadcasting.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", id).Int("totalClients", clientCount).Msg("SSE client connected")
	return client, nil
}

// RemoveClient removes a client connection.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, exists := b.clients[client.ID]
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	if exists {
		close(client.Done)
	}

	log.Debug().Str("clientId", client.ID).Int("totalClients", clientCount).Msg("SSE client disconnected")
}

// removeClientByID removes a client marked dead during a broadcast.
func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if exists {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
	}
}

// BroadcastState pushes a timer state snapshot to all connected clients.
func (b *Broadcaster) BroadcastState(state models.TimerState) {
	b.broadcast(Event{Type: EventState, State: &state})
}

// broadcast sends an event to every client, writing concurrently with a
// per-client timeout and dropping clients that fail.
func (b *Broadcaster) broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", payload)

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadClientsCh := make(chan string, len(clients))
	var wg sync.WaitGroup

	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				b.writeToClient(c, message, deadClientsCh)
			}(client)
		}
	}

	wg.Wait()
	close(deadClientsCh)

	for clientID := range deadClientsCh {
		b.removeClientByID(clientID)
	}
}

// writeToClient writes a message to a single client with timeout.
func (b *Broadcaster) writeToClient(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			log.Debug().Str("clientId", client.ID).Err(err).Msg("SSE write failed, dropping client")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", client.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, dropping client")
		deadCh <- client.ID
	case <-client.Done:
		// Client disconnected during write
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE handles an SSE connection request, sending the given snapshot as
// the first state event so a new client renders immediately.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request, snapshot models.TimerState) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, err := json.Marshal(Event{Type: EventConnected, ClientID: client.ID, State: &snapshot})
	if err == nil {
		fmt.Fprintf(w, "data: %s\n\n", hello)
		client.Flusher.Flush()
	}

	// Hold the connection until the client goes away
	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
