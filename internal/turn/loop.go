// Package turn runs the conversation pipeline: receive user message →
// persist → relay to the webhook → format the reply → persist → respond.
package turn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/format"
	"chatrelay/internal/metrics"
	"chatrelay/internal/relay"
)

const (
	defaultConcurrency  = 5
	defaultHistoryLimit = 100
)

// userFacingFailure is what the widget shows when delivery fails. The
// underlying cause goes to the log, not the browser.
const userFacingFailure = "Sorry, I couldn't reach the assistant. Please try again."

// Loop consumes inbound messages from the bus and drives one turn each.
// Different sessions run concurrently; serializing turns within a session
// is the publishing channel's job.
type Loop struct {
	relay       *relay.Client
	history     domain.HistoryStore
	bus         domain.MessageBus
	logger      *slog.Logger
	concurrency int
}

// LoopConfig holds the loop's dependencies.
type LoopConfig struct {
	Relay       *relay.Client
	History     domain.HistoryStore
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Concurrency int // max parallel turns (default 5)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		relay:       cfg.Relay,
		history:     cfg.History,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages until the context ends or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("turn loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("turn loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, turn loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processTurn(ctx, m)
			}(msg)
		}
	}
}

func (l *Loop) processTurn(ctx context.Context, msg domain.InboundMessage) {
	metrics.TurnsTotal.WithLabelValues(msg.Channel).Inc()

	userMsg := domain.ChatMessage{
		Role:      domain.RoleUser,
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
	if err := l.history.Append(ctx, msg.SessionID, userMsg); err != nil {
		metrics.HistoryErrors.Inc()
		l.logger.Error("append user message failed", "session", msg.SessionID, "err", err)
	}

	start := time.Now()
	reply, err := l.relay.Send(ctx, msg.Content, msg.SessionID)
	metrics.RelayLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		cause := failureCause(err)
		metrics.TurnsFailed.WithLabelValues(cause).Inc()
		l.logger.Error("turn delivery failed",
			"session", msg.SessionID,
			"cause", cause,
			"err", err,
		)
		l.bus.SendOutbound(domain.OutboundMessage{
			Channel:   msg.Channel,
			SessionID: msg.SessionID,
			Err:       userFacingFailure,
		})
		return
	}

	fmtStart := time.Now()
	html := format.Format(reply)
	metrics.FormatDuration.Observe(time.Since(fmtStart).Seconds())

	botMsg := domain.ChatMessage{
		Role:      domain.RoleBot,
		Content:   reply,
		Timestamp: domain.NowMillis(),
	}
	if err := l.history.Append(ctx, msg.SessionID, botMsg); err != nil {
		metrics.HistoryErrors.Inc()
		l.logger.Error("append bot message failed", "session", msg.SessionID, "err", err)
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel:   msg.Channel,
		SessionID: msg.SessionID,
		Content:   reply,
		HTML:      html,
	})
}

// failureCause classifies a delivery failure for metrics and logs.
func failureCause(err error) string {
	var se *relay.StatusError
	switch {
	case errors.Is(err, relay.ErrEmptyReply):
		return "empty_reply"
	case errors.As(err, &se):
		return "status"
	default:
		return "transport"
	}
}
