package services

import (
	"encoding/json"
	"sync"

	"github.com/benford266/ComfyImageGen/internal/orchestrator"
)

type WSEvent struct {
	Type     string `json:"type"`
	JobID    string `json:"jobId,omitempty"`
	PromptID string `json:"promptId,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	ImageUrl string `json:"imageUrl,omitempty"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*WSClient
}

func NewHub() *Hub {
	return &Hub{
		clients: map[string]*WSClient{},
	}
}

// Add registers c, replacing any earlier connection with the same id.
func (h *Hub) Add(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.id]; ok && old != c {
		old.close()
	}

	h.clients[c.id] = c
}

// Remove drops c if it is still the registered connection for its id.
func (h *Hub) Remove(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
	c.close()
}

func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[string]*WSClient{}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) SendTo(clientId string, event WSEvent) {
	h.mu.RLock()
	c := h.clients[clientId]
	h.mu.RUnlock()

	if c == nil {
		return
	}

	b, _ := json.Marshal(event)
	if !c.push(b) {
		// slow reader
		h.Remove(c)
	}
}

// Notifier forwards orchestrator progress to clientId. jobId is set for async jobs.
func (h *Hub) Notifier(clientId, jobId string) orchestrator.Notify {
	if clientId == "" {
		return nil
	}
	return func(ev orchestrator.Event) {
		out := WSEvent{
			Type:     ev.Type,
			JobID:    jobId,
			PromptID: ev.PromptID,
			Attempt:  ev.Attempt,
			Message:  ev.Message,
		}
		if ev.Reference != nil {
			out.ImageUrl = ev.Reference.URL
			out.Filename = ev.Reference.Filename
		}
		h.SendTo(clientId, out)
	}
}
