package realtime

import (
	"encoding/json"
	"testing"
)

func newTestClient(h *Hub) *Client {
	c := &Client{
		hub:      h,
		send:     make(chan []byte, sendBuffer),
		jobIDs:   make(map[string]bool),
		sessions: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func receive(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		event := map[string]interface{}{}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		return event
	default:
		t.Fatal("expected a frame, got none")
		return nil
	}
}

func TestDispatchJobEventRouting(t *testing.T) {
	hub := NewHub(nil)
	subscriber := newTestClient(hub)
	bystander := newTestClient(hub)

	hub.subscribeJob(subscriber, "job_abc")

	hub.DispatchJobEvent(`{"jobId": "job_abc", "status": "processing", "phase": "extraction", "message": "working"}`)

	event := receive(t, subscriber)
	if event["type"] != "status_update" {
		t.Errorf("expected status_update type, got %v", event["type"])
	}
	if event["jobId"] != "job_abc" || event["phase"] != "extraction" {
		t.Errorf("unexpected event %+v", event)
	}

	select {
	case <-bystander.send:
		t.Error("bystander should not receive job events it did not subscribe to")
	default:
	}
}

func TestDispatchChartEventRouting(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub)

	hub.subscribeCharts(client, []string{"sess-1", "sess-2"})

	hub.DispatchChartEvent(`{"sessionId": "sess-2", "aiStatus": "ready"}`)
	event := receive(t, client)
	if event["type"] != "chart_status_update" || event["sessionId"] != "sess-2" {
		t.Errorf("unexpected event %+v", event)
	}

	hub.unsubscribeCharts(client)
	hub.DispatchChartEvent(`{"sessionId": "sess-1", "aiStatus": "failed"}`)
	select {
	case <-client.send:
		t.Error("expected no events after unsubscribe_charts")
	default:
	}
}

func TestDispatchMalformedPayload(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub)
	hub.subscribeJob(client, "job_1")

	hub.DispatchJobEvent(`not json`)
	hub.DispatchJobEvent(`{"status": "processing"}`) // missing jobId

	select {
	case <-client.send:
		t.Error("malformed payloads must not reach subscribers")
	default:
	}
}

func TestBroadcastChartStatusFastPath(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub)
	hub.subscribeCharts(client, []string{"sess-9"})

	hub.BroadcastChartStatus("sess-9", "processing")
	event := receive(t, client)
	if event["aiStatus"] != "processing" {
		t.Errorf("unexpected event %+v", event)
	}
	if event["timestamp"] == nil {
		t.Error("expected timestamp on fast-path event")
	}
}

func TestRemoveClientCleansSubscriptions(t *testing.T) {
	hub := NewHub(nil)
	client := newTestClient(hub)

	hub.subscribeJob(client, "job_1")
	hub.subscribeCharts(client, []string{"sess-1"})
	hub.removeClient(client)

	hub.mu.RLock()
	if len(hub.clients) != 0 {
		t.Error("expected client registry to be empty")
	}
	if len(hub.jobSubs) != 0 {
		t.Error("expected job subscriptions to be cleaned up")
	}
	if len(hub.chartSubs) != 0 {
		t.Error("expected chart subscriptions to be cleaned up")
	}
	hub.mu.RUnlock()

	// Removing twice must not panic on the closed send channel
	hub.removeClient(client)
}

func TestUnsubscribeJobDropsEmptySets(t *testing.T) {
	hub := NewHub(nil)
	a := newTestClient(hub)
	b := newTestClient(hub)

	hub.subscribeJob(a, "job_1")
	hub.subscribeJob(b, "job_1")
	hub.unsubscribeJob(a, "job_1")

	hub.mu.RLock()
	if len(hub.jobSubs["job_1"]) != 1 {
		t.Errorf("expected one remaining subscriber, got %d", len(hub.jobSubs["job_1"]))
	}
	hub.mu.RUnlock()

	hub.unsubscribeJob(b, "job_1")
	hub.mu.RLock()
	if _, ok := hub.jobSubs["job_1"]; ok {
		t.Error("expected empty subscription set to be removed")
	}
	hub.mu.RUnlock()
}
