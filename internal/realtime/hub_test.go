package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/feedbackloop/sentinel/internal/pattern"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func testResult(businessID string, level pattern.RiskLevel, score float64) *pattern.Result {
	return &pattern.Result{
		ID:           "res_1",
		SessionID:    "sess_1",
		BusinessID:   businessID,
		AnomalyScore: score,
		RiskLevel:    level,
		AnalyzedAt:   time.Now(),
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventSessionScored, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventSessionScored, EventPatternDetected},
	}}

	scoredEvent := &Event{Type: EventSessionScored}
	patternEvent := &Event{Type: EventPatternDetected}
	batchEvent := &Event{Type: EventBatchCompleted}

	if !h.shouldSend(client, scoredEvent) {
		t.Error("Should receive session_scored events")
	}
	if !h.shouldSend(client, patternEvent) {
		t.Error("Should receive pattern_detected events")
	}
	if h.shouldSend(client, batchEvent) {
		t.Error("Should NOT receive batch_completed events")
	}
}

func TestShouldSend_BusinessFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BusinessIDs: []string{"biz_1"},
	}}

	matching := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_1", pattern.RiskLow, 0.1),
	}
	notMatching := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_2", pattern.RiskLow, 0.1),
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on business ID")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated businesses")
	}
}

func TestShouldSend_RiskLevelFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		RiskLevels: []string{"high", "critical"},
	}}

	high := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_1", pattern.RiskHigh, 0.7),
	}
	low := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_1", pattern.RiskLow, 0.1),
	}

	if !h.shouldSend(client, high) {
		t.Error("Should receive high-risk results")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low-risk results")
	}
}

func TestShouldSend_MinScoreFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinScore: 0.5,
	}}

	large := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_1", pattern.RiskHigh, 0.8),
	}
	small := &Event{
		Type: EventSessionScored,
		Data: testResult("biz_1", pattern.RiskLow, 0.2),
	}
	batch := &Event{
		Type: EventBatchCompleted,
		Data: map[string]any{"sessions": 50},
	}

	if !h.shouldSend(client, large) {
		t.Error("Should receive high-score result")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive low-score result")
	}
	if !h.shouldSend(client, batch) {
		t.Error("MinScore filter should only apply to result events")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventSessionScored}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonResultData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		BusinessIDs: []string{"biz_1"},
	}}

	// Event with non-result data should not crash
	event := &Event{
		Type: EventBatchCompleted,
		Data: "string data not a result",
	}

	// Business filter skips non-result data, so event passes through
	if !h.shouldSend(client, event) {
		t.Error("Non-result data should pass through when business filter can't apply")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventSessionScored, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastSessionScored(testResult("biz_1", pattern.RiskMedium, 0.4))

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_BroadcastBatchCompleted(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not panic
	h.BroadcastBatchCompleted(map[string]any{
		"batchId": "batch_1", "sessions": 100,
	})
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants batch completions
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventBatchCompleted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a session event (should be filtered out)
	h.Broadcast(&Event{Type: EventSessionScored, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive session_scored event")
	default:
		// Good - filtered out
	}

	// Send a batch event (should be received)
	h.Broadcast(&Event{Type: EventBatchCompleted, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive batch_completed event")
	}
}
