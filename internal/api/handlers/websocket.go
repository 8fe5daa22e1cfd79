// Package handlers provides HTTP request handlers for the ipsweep API.
// This file implements the websocket feed of job progress and state changes.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/ipsweep/internal/api/middleware"
	"github.com/anstrom/ipsweep/internal/jobs"
	"github.com/anstrom/ipsweep/internal/logging"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriodRatio = 0.9
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // must be < pongWait
	maxMessageSize  = 512
	bufferSize      = 256
	clientQueueSize = 64
)

// Message types sent over the job feed.
const (
	MessageJobUpdate = "job_update"
	MessageJobState  = "job_state"
)

// WebSocketMessage is the envelope of every frame on the feed.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// JobUpdateMessage is the payload of a job event. Results are never sent;
// clients fetch them from the status endpoint once the job completes.
type JobUpdateMessage struct {
	JobID       string        `json:"job_id"`
	State       jobs.State    `json:"state"`
	Progress    float64       `json:"progress"`
	Total       int           `json:"total"`
	Scanned     int           `json:"scanned"`
	Online      int           `json:"online"`
	Offline     int           `json:"offline"`
	Error       string        `json:"error,omitempty"`
	Summary     *jobs.Summary `json:"summary,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	jobID string // empty subscribes to every job
}

type wsFrame struct {
	jobID string
	data  []byte
}

// WebSocketHandler is a hub that fans job events out to websocket clients.
// It implements jobs.Listener.
type WebSocketHandler struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	clients    map[*wsClient]bool
	broadcast  chan wsFrame
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	mutex sync.RWMutex
}

var _ jobs.Listener = (*WebSocketHandler)(nil)

// NewWebSocketHandler creates the hub and starts its goroutine. Call Close
// to stop it.
func NewWebSocketHandler(logger *logging.Logger, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:     logger.WithComponent("api.websocket"),
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsFrame, bufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	go h.run()
	return h
}

// originChecker allows same-origin requests, plus any of allowed. A "*"
// entry allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// JobsWebSocket handles GET /api/v1/ws/jobs. An optional job_id query
// parameter limits the feed to one job.
//
// @Summary Job progress feed
// @Description Upgrades to a websocket that streams job_update and job_state messages
// @Tags Jobs
// @Param job_id query string false "Only stream events for this job"
// @Success 101
// @Router /ws/jobs [get]
func (h *WebSocketHandler) JobsWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	select {
	case <-h.shutdown:
		writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("websocket hub is shut down"))
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	client := &wsClient{
		conn:  conn,
		send:  make(chan []byte, clientQueueSize),
		jobID: r.URL.Query().Get("job_id"),
	}
	select {
	case h.register <- client:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}
	h.logger.Debug("WebSocket client connected", "request_id", requestID, "job_id", client.jobID)

	go h.writePump(client, requestID)
	h.readPump(client, requestID)
}

// OnJobEvent implements jobs.Listener. It never blocks; when the hub is
// backed up the frame is dropped.
func (h *WebSocketHandler) OnJobEvent(e jobs.Event) {
	msgType := MessageJobUpdate
	if e.Kind == jobs.EventState {
		msgType = MessageJobState
	}
	st := e.Status
	data, err := json.Marshal(WebSocketMessage{
		Type:      msgType,
		Timestamp: e.At.UTC(),
		Data: JobUpdateMessage{
			JobID:       st.JobID,
			State:       st.State,
			Progress:    st.Progress,
			Total:       st.Stats.Total,
			Scanned:     st.Stats.Scanned,
			Online:      st.Stats.Online,
			Offline:     st.Stats.Offline,
			Error:       st.Error,
			Summary:     st.Summary,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
		},
	})
	if err != nil {
		h.logger.Error("Failed to marshal job update", "job_id", st.JobID, "error", err)
		return
	}

	select {
	case h.broadcast <- wsFrame{jobID: st.JobID, data: data}:
	default:
		h.logger.Warn("Broadcast channel full, dropping job update", "job_id", st.JobID)
	}
}

// run owns the client set.
func (h *WebSocketHandler) run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()

		case c := <-h.unregister:
			h.mutex.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()

		case frame := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				if c.jobID != "" && c.jobID != frame.jobID {
					continue
				}
				select {
				case c.send <- frame.data:
				default:
					// Slow consumer.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh.
func (h *WebSocketHandler) readPump(c *wsClient, requestID string) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *WebSocketHandler) writePump(c *wsClient, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ConnectedClients returns the number of connected clients.
func (h *WebSocketHandler) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and stops the hub.
func (h *WebSocketHandler) Close() error {
	h.closeOnce.Do(func() {
		close(h.shutdown)
		<-h.done
		h.logger.Info("WebSocket handler closed")
	})
	return nil
}
