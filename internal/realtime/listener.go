package realtime

import (
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/medcharts/backend/internal/logger"
	"github.com/medcharts/backend/internal/queue"
)

const (
	keepaliveInterval = 30 * time.Second
	reconnectDelay    = 5 * time.Second
)

// Listener holds one dedicated database connection subscribed to both
// notification channels and pushes every payload into the hub.
type Listener struct {
	dsn string
	hub *Hub

	mu           sync.Mutex
	pqListener   *pq.Listener
	reconnecting bool

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewListener(dsn string, hub *Hub) *Listener {
	return &Listener{
		dsn:      dsn,
		hub:      hub,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start connects and runs the listen loop in the background.
func (l *Listener) Start() error {
	if err := l.connect(); err != nil {
		return err
	}
	go l.run()
	return nil
}

// Stop tears the listener down.
func (l *Listener) Stop() {
	close(l.stopChan)
	<-l.doneChan

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pqListener != nil {
		l.pqListener.Close()
		l.pqListener = nil
	}
}

func (l *Listener) connect() error {
	listener := pq.NewListener(l.dsn, reconnectDelay, time.Minute, func(event pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("Notification listener event", map[string]interface{}{
				"event": int(event),
				"error": err.Error(),
			})
		}
	})
	if err := listener.Listen(queue.ChannelJobStatus); err != nil {
		listener.Close()
		return err
	}
	if err := listener.Listen(queue.ChannelChartStatus); err != nil {
		listener.Close()
		return err
	}

	l.mu.Lock()
	l.pqListener = listener
	l.mu.Unlock()

	logger.Info("Notification listener connected", map[string]interface{}{
		"channels": []string{queue.ChannelJobStatus, queue.ChannelChartStatus},
	})
	return nil
}

func (l *Listener) run() {
	defer close(l.doneChan)

	for {
		l.mu.Lock()
		listener := l.pqListener
		l.mu.Unlock()
		if listener == nil {
			return
		}

		select {
		case <-l.stopChan:
			return

		case notification, ok := <-listener.Notify:
			if !ok {
				l.reconnect()
				continue
			}
			if notification == nil {
				// nil is delivered after an automatic reconnect; events
				// in transit may have been lost, nothing to replay here
				continue
			}
			l.dispatch(notification.Channel, notification.Extra)

		case <-time.After(keepaliveInterval):
			// No traffic; verify the connection with a no-op round trip
			if err := listener.Ping(); err != nil {
				logger.Warn("Notification listener keepalive failed", map[string]interface{}{"error": err.Error()})
				l.reconnect()
			}
		}
	}
}

func (l *Listener) dispatch(channel, payload string) {
	switch channel {
	case queue.ChannelJobStatus:
		l.hub.DispatchJobEvent(payload)
	case queue.ChannelChartStatus:
		l.hub.DispatchChartEvent(payload)
	}
}

// reconnect tears the connection down and builds a fresh one after a
// fixed delay. Guarded so overlapping failures trigger a single attempt.
func (l *Listener) reconnect() {
	l.mu.Lock()
	if l.reconnecting {
		l.mu.Unlock()
		return
	}
	l.reconnecting = true
	old := l.pqListener
	l.pqListener = nil
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}

	select {
	case <-l.stopChan:
		l.mu.Lock()
		l.reconnecting = false
		l.mu.Unlock()
		return
	case <-time.After(reconnectDelay):
	}

	for {
		err := l.connect()
		if err == nil {
			break
		}
		logger.Error("Notification listener reconnect failed", map[string]interface{}{"error": err.Error()})
		select {
		case <-l.stopChan:
			l.mu.Lock()
			l.reconnecting = false
			l.mu.Unlock()
			return
		case <-time.After(reconnectDelay):
		}
	}

	l.mu.Lock()
	l.reconnecting = false
	l.mu.Unlock()
}
