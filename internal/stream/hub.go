package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hub fans live session events out to connected websocket clients, keyed by
// session id. When a redis client is supplied, every broadcast is mirrored
// onto a pub/sub channel so other instances can forward it to their clients.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

// Event is the wire envelope pushed to listeners. Kind is one of
// "metrics", "coaching", "status".
type Event struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:   redisClient,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// Publish marshals the event and broadcasts it. Marshal failures are logged
// and dropped; live streaming is best-effort.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("stream marshal error: %v", err)
		return
	}
	h.Broadcast(ev.SessionID, payload)
}

func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	clients := h.clients[sessionID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.Send <- payload:
		default:
		}
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.Subscribe(ctx, "session:*:live")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		h.mu.RLock()
		clients := h.clients[sessionID]
		h.mu.RUnlock()
		for client := range clients {
			select {
			case client.Send <- []byte(msg.Payload):
			default:
			}
		}
	}
}

func redisChannel(sessionID string) string {
	return "session:" + sessionID + ":live"
}

func sessionIDFromChannel(ch string) string {
	// session:{id}:live
	const prefix = "session:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
