package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/models"
	"github.com/medcharts/backend/internal/queue"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = pingInterval + 10*time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans database notifications out to subscribed WebSocket clients.
// Subscriptions are keyed by job id and by chart session id.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	jobSubs   map[string]map[*Client]bool
	chartSubs map[string]map[*Client]bool

	queueService *queue.QueueService
}

// Client is one WebSocket connection and its subscription set.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	jobIDs   map[string]bool
	sessions map[string]bool
}

func NewHub(queueService *queue.QueueService) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		jobSubs:      make(map[string]map[*Client]bool),
		chartSubs:    make(map[string]map[*Client]bool),
		queueService: queueService,
	}
}

// HandleWebSocket upgrades the request and runs the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		jobIDs:   make(map[string]bool),
		sessions: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go client.writePump()
	client.readPump()
}

// DispatchJobEvent forwards a job_status_update payload from the database
// channel to every subscriber of that job.
func (h *Hub) DispatchJobEvent(payload string) {
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logger.Warn("Malformed job notification payload", map[string]interface{}{"error": err.Error()})
		return
	}
	jobID, _ := event["jobId"].(string)
	if jobID == "" {
		return
	}
	event["type"] = "status_update"
	h.sendToJobSubscribers(jobID, event)
}

// DispatchChartEvent forwards a chart_status_update payload to every
// subscriber of that session.
func (h *Hub) DispatchChartEvent(payload string) {
	var event map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logger.Warn("Malformed chart notification payload", map[string]interface{}{"error": err.Error()})
		return
	}
	sessionID, _ := event["sessionId"].(string)
	if sessionID == "" {
		return
	}
	event["type"] = "chart_status_update"
	h.sendToChartSubscribers(sessionID, event)
}

// BroadcastChartStatus is the same-process fast path that skips the
// database round trip for events originating next to the hub.
func (h *Hub) BroadcastChartStatus(sessionID string, aiStatus models.ChartAIStatus) {
	h.sendToChartSubscribers(sessionID, map[string]interface{}{
		"type":      "chart_status_update",
		"sessionId": sessionID,
		"aiStatus":  string(aiStatus),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Hub) sendToJobSubscribers(jobID string, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.jobSubs[jobID] {
		client.enqueue(data)
	}
}

func (h *Hub) sendToChartSubscribers(sessionID string, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.chartSubs[sessionID] {
		client.enqueue(data)
	}
}

func (h *Hub) subscribeJob(client *Client, jobID string) {
	h.mu.Lock()
	if h.jobSubs[jobID] == nil {
		h.jobSubs[jobID] = make(map[*Client]bool)
	}
	h.jobSubs[jobID][client] = true
	client.jobIDs[jobID] = true
	h.mu.Unlock()
}

func (h *Hub) unsubscribeJob(client *Client, jobID string) {
	h.mu.Lock()
	if subs := h.jobSubs[jobID]; subs != nil {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.jobSubs, jobID)
		}
	}
	delete(client.jobIDs, jobID)
	h.mu.Unlock()
}

func (h *Hub) subscribeCharts(client *Client, sessionIDs []string) {
	h.mu.Lock()
	for _, sessionID := range sessionIDs {
		if h.chartSubs[sessionID] == nil {
			h.chartSubs[sessionID] = make(map[*Client]bool)
		}
		h.chartSubs[sessionID][client] = true
		client.sessions[sessionID] = true
	}
	h.mu.Unlock()
}

func (h *Hub) unsubscribeCharts(client *Client) {
	h.mu.Lock()
	for sessionID := range client.sessions {
		if subs := h.chartSubs[sessionID]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.chartSubs, sessionID)
			}
		}
	}
	client.sessions = make(map[string]bool)
	h.mu.Unlock()
}

// removeClient drops a connection and every subscription it holds.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	for jobID := range client.jobIDs {
		if subs := h.jobSubs[jobID]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.jobSubs, jobID)
			}
		}
	}
	for sessionID := range client.sessions {
		if subs := h.chartSubs[sessionID]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.chartSubs, sessionID)
			}
		}
	}
	close(client.send)
	h.mu.Unlock()
}

// ClientCount is used by the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Slow consumer; drop the frame rather than block the hub
	}
}

type clientMessage struct {
	Type       string   `json:"type"`
	JobID      string   `json:"jobId,omitempty"`
	SessionIDs []string `json:"sessionIds,omitempty"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			// 1005/1006 are normal disconnects
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(map[string]interface{}{"type": "error", "message": "invalid JSON frame"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg clientMessage) {
	now := time.Now().UTC().Format(time.RFC3339)

	switch msg.Type {
	case "subscribe":
		if msg.JobID == "" {
			c.reply(map[string]interface{}{"type": "error", "message": "jobId is required"})
			return
		}
		c.hub.subscribeJob(c, msg.JobID)
		c.reply(map[string]interface{}{"type": "subscribed", "jobId": msg.JobID, "timestamp": now})
		c.sendJobSnapshot(msg.JobID)

	case "unsubscribe":
		if msg.JobID == "" {
			c.reply(map[string]interface{}{"type": "error", "message": "jobId is required"})
			return
		}
		c.hub.unsubscribeJob(c, msg.JobID)
		c.reply(map[string]interface{}{"type": "unsubscribed", "jobId": msg.JobID, "timestamp": now})

	case "subscribe_charts":
		if len(msg.SessionIDs) == 0 {
			c.reply(map[string]interface{}{"type": "error", "message": "sessionIds is required"})
			return
		}
		c.hub.subscribeCharts(c, msg.SessionIDs)
		c.reply(map[string]interface{}{"type": "charts_subscribed", "sessionIds": msg.SessionIDs, "timestamp": now})

	case "unsubscribe_charts":
		c.hub.unsubscribeCharts(c)
		c.reply(map[string]interface{}{"type": "charts_unsubscribed", "timestamp": now})

	default:
		c.reply(map[string]interface{}{"type": "error", "message": "unknown message type"})
	}
}

// sendJobSnapshot pushes the job's current state so late subscribers are
// not blind until the next transition.
func (c *Client) sendJobSnapshot(jobID string) {
	job, err := c.hub.queueService.GetJob(jobID)
	if err != nil {
		return
	}
	effective, retryIn := queue.DeriveEffectiveStatus(job, time.Now())

	snapshot := map[string]interface{}{
		"type":      "status_update",
		"jobId":     job.JobID,
		"status":    string(job.Status),
		"phase":     "snapshot",
		"message":   job.ErrorMessage,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if effective != "" {
		snapshot["effectiveStatus"] = string(effective)
	}
	if retryIn > 0 {
		snapshot["retryInSeconds"] = retryIn
	}
	c.reply(snapshot)
}

func (c *Client) reply(event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
