package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/filmindex/catalog-etl/internal/catalog"
	pipeline "github.com/filmindex/catalog-etl/internal/sync"
)

// Status is the running summary sent to clients when they connect.
type Status struct {
	Watermarks  map[catalog.Table]time.Time `json:"watermarks"`
	Indexed     map[string]int              `json:"indexed"`
	Passes      int                         `json:"passes"`
	LastPoll    time.Time                   `json:"last_poll"`
	LastRebuild time.Time                   `json:"last_rebuild"`
}

// Handler turns pipeline events into dashboard messages. It implements
// the pipeline Observer and is safe to call from the pipeline goroutine
// while the server reads its status.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.Mutex
	status Status
}

var _ pipeline.Observer = (*Handler)(nil)

// NewHandler creates a handler broadcasting through server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
		status: Status{
			Watermarks: make(map[catalog.Table]time.Time),
			Indexed:    make(map[string]int),
		},
	}
	server.setStatus(h.statusMessage)
	return h
}

// BatchIndexed implements the pipeline Observer.
func (h *Handler) BatchIndexed(ev pipeline.BatchEvent) {
	h.mu.Lock()
	h.status.Indexed[ev.Collection] += ev.Documents
	h.mu.Unlock()

	h.send(MessageTypeBatchIndexed, ev)
}

// WatermarkAdvanced implements the pipeline Observer.
func (h *Handler) WatermarkAdvanced(ev pipeline.WatermarkEvent) {
	h.mu.Lock()
	h.status.Watermarks[ev.Table] = ev.Watermark
	h.mu.Unlock()

	h.send(MessageTypeWatermarkAdvanced, ev)
}

// PollComplete implements the pipeline Observer.
func (h *Handler) PollComplete(ev pipeline.PollEvent) {
	h.mu.Lock()
	h.status.Passes++
	h.status.LastPoll = time.Now()
	h.mu.Unlock()

	if len(ev.Skipped) > 0 {
		h.logger.Printf("Poll pass skipped %v", ev.Skipped)
	}
	h.send(MessageTypePollComplete, ev)
}

// RebuildComplete implements the pipeline Observer.
func (h *Handler) RebuildComplete(ev pipeline.RebuildEvent) {
	h.mu.Lock()
	h.status.LastRebuild = time.Now()
	h.mu.Unlock()

	h.logger.Printf("Rebuild complete: %v in %v", ev.Documents, ev.Duration)
	h.send(MessageTypeRebuildComplete, ev)
}

// GetStatus returns a copy of the current status
func (h *Handler) GetStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.status
	out.Watermarks = make(map[catalog.Table]time.Time, len(h.status.Watermarks))
	for k, v := range h.status.Watermarks {
		out.Watermarks[k] = v
	}
	out.Indexed = make(map[string]int, len(h.status.Indexed))
	for k, v := range h.status.Indexed {
		out.Indexed[k] = v
	}
	return out
}

func (h *Handler) statusMessage() Message {
	data, err := json.Marshal(h.GetStatus())
	if err != nil {
		h.logger.Printf("Failed to marshal status: %v", err)
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
