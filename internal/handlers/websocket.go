package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope every WebSocket frame carries.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is one log line shipped to WebSocket clients.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// JobStatusUpdate reports one job lifecycle transition.
type JobStatusUpdate struct {
	JobID     string           `json:"job_id"`
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Stats     map[string]int64 `json:"stats,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// CrawlProgressUpdate carries the crawler's running report for one job.
type CrawlProgressUpdate struct {
	JobID  string        `json:"job_id"`
	Report models.Report `json:"report"`
}

// WebSocketHandler fans log lines and job events out to connected clients.
type WebSocketHandler struct {
	logger      arbor.ILogger
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex

	// progressThrottler rate-limits crawl_progress events; nil disables
	// throttling.
	progressThrottler *rate.Limiter
}

// NewWebSocketHandler creates the hub. Progress throttling follows the
// websocket config; an unparseable interval disables it.
func NewWebSocketHandler(config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
	}

	if config != nil && config.ProgressThrottle != "" {
		if duration, err := time.ParseDuration(config.ProgressThrottle); err == nil {
			h.progressThrottler = rate.NewLimiter(rate.Every(duration), 1)
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse progress throttle interval - throttling disabled")
		}
	}

	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until the
// client goes away.
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	// Handle client disconnection
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// BroadcastLog ships one log line to every connected client.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	h.broadcast(WSMessage{Type: "log", Payload: entry})
}

// JobStatus implements jobs.Notifier. Lifecycle transitions are broadcast
// unthrottled.
func (h *WebSocketHandler) JobStatus(job *models.CrawlJob) {
	h.broadcast(WSMessage{
		Type: "job_status",
		Payload: JobStatusUpdate{
			JobID:     job.ID,
			Name:      job.Name,
			Status:    string(job.Status),
			Error:     job.Error,
			Stats:     job.Stats,
			Timestamp: time.Now(),
		},
	})
}

// JobProgress implements jobs.Notifier. The crawler reports after every
// page, so progress events are throttled.
func (h *WebSocketHandler) JobProgress(jobID string, report models.Report) {
	if h.progressThrottler != nil && !h.progressThrottler.Allow() {
		return
	}
	h.broadcast(WSMessage{
		Type: "crawl_progress",
		Payload: CrawlProgressUpdate{
			JobID:  jobID,
			Report: report,
		},
	})
}

// broadcast marshals the message once and writes it to every client. Each
// connection has its own write mutex; gorilla/websocket allows only one
// concurrent writer per connection.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send WebSocket message to client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
