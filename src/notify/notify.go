// FIRE-AND-FORGET EVENT DISPATCH
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
)

// Event kinds emitted by the engine.
const (
	EventTradeExecuted   = "trade_executed"
	EventSignalRejected  = "signal_rejected"
	EventCooldownEntered = "cooldown_entered"
	EventAdvisorFallback = "advisor_fallback"
	EventOrderFailed     = "order_failed"
	EventAuthFailure     = "auth_failure"
)

// Severity levels.
const (
	SeverityInfo = "info"
	SeverityWarn = "warn"
	SeverityHigh = "high"
)

type Config struct {
	WebhookURL     string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	WebhookTimeout time.Duration `envconfig:"NOTIFY_WEBHOOK_TIMEOUT" default:"5s"`
	QueueSize      int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Event is one structured notification. Payload keys are free-form; the
// engine puts venue, symbol, reason codes and order ids in here.
type Event struct {
	Kind           string         `json:"kind"`
	Severity       string         `json:"severity"`
	SubscriptionID uint           `json:"subscription_id"`
	Payload        map[string]any `json:"payload,omitempty"`
	At             time.Time      `json:"at"`
}

// Sink delivers one event somewhere. Delivery failures are the sink's
// problem; the dispatcher never retries.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher fans events out to sinks from a single background goroutine.
// Emit never blocks the execution cycle: when the queue is full the event
// is dropped and counted, which beats stalling order placement.
type Dispatcher struct {
	sinks  []Sink
	queue  chan Event
	done   chan struct{}
	cancel context.CancelFunc
}

func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:  sinks,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go d.run(ctx)
	return d
}

// Emit enqueues an event without blocking.
func (d *Dispatcher) Emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case d.queue <- event:
	default:
		logger.WithFields(logger.Fields{
			"kind":         event.Kind,
			"subscription": event.SubscriptionID,
		}).Warn("NOTIFY: queue full, event dropped")
	}
}

// Close stops the dispatcher. Events still queued are dropped.
func (d *Dispatcher) Close() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			for _, sink := range d.sinks {
				if err := sink.Deliver(ctx, event); err != nil {
					logger.WithFields(logger.Fields{
						"kind":  event.Kind,
						"error": err.Error(),
					}).Warn("NOTIFY: delivery failed")
				}
			}
		}
	}
}

// LogSink writes events to the structured log. Always wired, so an engine
// without a webhook still leaves an audit trail.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, event Event) error {
	entry := logger.WithFields(logger.Fields{
		"kind":         event.Kind,
		"severity":     event.Severity,
		"subscription": event.SubscriptionID,
		"payload":      event.Payload,
	})
	if event.Severity == SeverityHigh {
		entry.Error("ENGINE EVENT")
	} else {
		entry.Info("ENGINE EVENT")
	}
	return nil
}

// WebhookSink POSTs each event as JSON to a configured URL.
type WebhookSink struct {
	http *resty.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		http: resty.New().SetBaseURL(url).SetTimeout(timeout),
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, event Event) error {
	resp, err := s.http.R().SetContext(ctx).SetBody(event).Post("")
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode())
	}
	return nil
}
