package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dealbot/internal/eventbus"
	"dealbot/internal/recovery"
)

// Metrics provides observability for the deal pipeline.
type Metrics struct {
	// Initial deal posts
	DealsPosted prometheus.Counter

	// Deals observed with the terminal field set
	DealsFilled prometheus.Counter

	// First interest per (deal, responder)
	InterestAdded prometheus.Counter

	// Reminder deliveries by result: "sent", "failed"
	Reminders *prometheus.CounterVec

	// Reminder loop exits by outcome: "stopped", "cancelled"
	ReminderExits *prometheus.CounterVec

	// Recovery decisions by result: "restored", "skipped", "errored"
	Recovered *prometheus.CounterVec

	RecoveryDuration prometheus.Histogram

	// Webhook events by result: "accepted", "rejected"
	WebhookEvents *prometheus.CounterVec
}

// New registers every metric with reg. active reports the live reminder loop count.
func New(reg prometheus.Registerer, active func() int) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		DealsPosted: f.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_deals_posted_total",
			Help: "Total initial deal notifications posted",
		}),
		DealsFilled: f.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_deals_filled_total",
			Help: "Total deals observed with the terminal field set",
		}),
		InterestAdded: f.NewCounter(prometheus.CounterOpts{
			Name: "dealbot_interest_added_total",
			Help: "Total first interest clicks per deal and responder",
		}),
		Reminders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_reminders_total",
			Help: "Total reminder deliveries by result",
		}, []string{"result"}),
		ReminderExits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_reminder_loop_exits_total",
			Help: "Total reminder loop exits by outcome",
		}, []string{"outcome"}),
		Recovered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_recovery_deals_total",
			Help: "Total recovery decisions by result",
		}, []string{"result"}),
		RecoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealbot_recovery_duration_seconds",
			Help:    "Duration of recovery scans",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dealbot_webhook_events_total",
			Help: "Total webhook events by result",
		}, []string{"result"}),
	}
	if active != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dealbot_reminder_loops_active",
			Help: "Reminder loops currently running",
		}, func() float64 { return float64(active()) })
	}
	return m
}

// IncrementWebhook records one webhook event.
func (m *Metrics) IncrementWebhook(result string) {
	if m != nil {
		m.WebhookEvents.WithLabelValues(result).Inc()
	}
}

// Observe applies one pipeline event.
func (m *Metrics) Observe(e eventbus.Event) {
	if m == nil {
		return
	}
	switch e.Type {
	case eventbus.DealPosted:
		m.DealsPosted.Inc()
	case eventbus.DealFilled:
		m.DealsFilled.Inc()
	case eventbus.InterestAdded:
		m.InterestAdded.Inc()
	case eventbus.ReminderSent:
		m.Reminders.WithLabelValues("sent").Inc()
	case eventbus.ReminderFailed:
		m.Reminders.WithLabelValues("failed").Inc()
	case eventbus.ReminderStopped:
		if s, ok := e.Data.(string); ok && s != "" {
			m.ReminderExits.WithLabelValues(s).Inc()
		}
	case eventbus.RecoveryFinished:
		if res, ok := e.Data.(recovery.Result); ok {
			m.Recovered.WithLabelValues("restored").Add(float64(res.Restored))
			m.Recovered.WithLabelValues("skipped").Add(float64(res.Skipped))
			m.Recovered.WithLabelValues("errored").Add(float64(res.Errored))
			m.RecoveryDuration.Observe(res.Took.Seconds())
		}
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
