package turn

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/bus"
	"chatrelay/internal/domain"
	"chatrelay/internal/history"
	"chatrelay/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startLoop wires a loop against the given webhook handler and returns the
// bus plus a channel of outbound messages for the "web" channel.
func startLoop(t *testing.T, handler http.HandlerFunc, store domain.HistoryStore) (*bus.InMemoryBus, <-chan domain.OutboundMessage) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := relay.NewWithHTTPClient(relay.Config{
		EndpointURL:    srv.URL,
		MaxRetries:     1,
		BaseRetryDelay: time.Millisecond,
		Logger:         testLogger(),
	}, srv.Client())

	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)

	out := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("web", func(msg domain.OutboundMessage) {
		out <- msg
	})

	loop := NewLoop(LoopConfig{
		Relay:   client,
		History: store,
		Bus:     b,
		Logger:  testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	return b, out
}

func waitOutbound(t *testing.T, out <-chan domain.OutboundMessage) domain.OutboundMessage {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return domain.OutboundMessage{}
	}
}

func TestProcessTurn_Success_FormatsAndPersists(t *testing.T) {
	store := history.NewMemoryStore(100)
	b, out := startLoop(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"reply":"**hello** there"}`))
	}, store)

	b.Publish(domain.InboundMessage{
		Channel:   "web",
		SessionID: "s1",
		Content:   "hi",
		Timestamp: time.Now(),
	})

	msg := waitOutbound(t, out)
	if msg.Err != "" {
		t.Fatalf("unexpected failure: %s", msg.Err)
	}
	if msg.Content != "**hello** there" {
		t.Errorf("Content: got %q", msg.Content)
	}
	if msg.HTML != "<p><strong>hello</strong> there</p>" {
		t.Errorf("HTML: got %q", msg.HTML)
	}

	msgs, err := store.Messages(context.Background(), "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+bot history, got %d messages", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("first history entry: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleBot || msgs[1].Content != "**hello** there" {
		t.Errorf("second history entry: %+v", msgs[1])
	}
	if msgs[1].Timestamp == 0 {
		t.Error("bot message should carry a millisecond timestamp")
	}
}

func TestProcessTurn_DeliveryFailure_SendsUserFacingError(t *testing.T) {
	store := history.NewMemoryStore(100)
	b, out := startLoop(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}, store)

	b.Publish(domain.InboundMessage{
		Channel:   "web",
		SessionID: "s1",
		Content:   "hi",
		Timestamp: time.Now(),
	})

	msg := waitOutbound(t, out)
	if msg.Err == "" {
		t.Fatal("expected a user-facing error")
	}
	if strings.Contains(msg.Err, "502") {
		t.Errorf("user-facing error should not leak status codes: %q", msg.Err)
	}
	if msg.Content != "" || msg.HTML != "" {
		t.Errorf("failed turn must not carry content: %+v", msg)
	}

	// Only the user message lands in history; there is no bot reply.
	msgs, _ := store.Messages(context.Background(), "s1", 0)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Errorf("expected only the user message in history, got %v", msgs)
	}
}

func TestFailureCause_Classification(t *testing.T) {
	emptyErr := &relay.DeliveryError{Attempts: 2, Err: relay.ErrEmptyReply}
	if got := failureCause(emptyErr); got != "empty_reply" {
		t.Errorf("empty reply: got %q", got)
	}

	statusErr := &relay.DeliveryError{Attempts: 2, Err: &relay.StatusError{Code: 500}}
	if got := failureCause(statusErr); got != "status" {
		t.Errorf("status: got %q", got)
	}

	if got := failureCause(context.DeadlineExceeded); got != "transport" {
		t.Errorf("transport: got %q", got)
	}
}
