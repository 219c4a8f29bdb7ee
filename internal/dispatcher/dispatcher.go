// Package dispatcher fans a form submission out to the form's configured
// endpoints. Endpoints are fully isolated from each other: one failing,
// misconfigured or circuit-broken endpoint never affects the rest.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
	"github.com/webylead/leadrelay/internal/metrics"
	"github.com/webylead/leadrelay/internal/transform"
)

// ErrRateLimited is returned when the client IP exceeded its submission quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// ConfigSource supplies form configurations and global settings.
type ConfigSource interface {
	GetEnabledFormConfig(ctx context.Context, formID string) (*domain.FormConfig, error)
	GetSettings(ctx context.Context) (domain.Settings, error)
}

// Limiter bounds submissions per client IP.
type Limiter interface {
	Allow(ctx context.Context, clientIP string, settings domain.Settings) bool
}

// Sender performs the outbound webhook request.
type Sender interface {
	Send(ctx context.Context, url string, payload map[string]string, withReferer bool) domain.Outcome
}

// Enqueuer places a failed delivery on the retry queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, ep domain.Endpoint, payload map[string]string, formID, initialError string) error
}

// AuditLog records every delivery attempt.
type AuditLog interface {
	Append(target string, payload map[string]string, out domain.Outcome, formID string) error
}

// Notifier reports failed deliveries to the operator, best effort.
type Notifier interface {
	DeliveryFailed(to, target, formID string, out domain.Outcome)
}

// Breaker short-circuits deliveries to endpoints that keep failing.
type Breaker interface {
	Allow(url string) error
	RecordSuccess(url string)
	RecordFailure(url string)
}

// MetricsSink records dispatcher metrics, fire-and-forget.
type MetricsSink interface {
	SubmissionReceived(formID string)
	RateLimitRejected()
	DeliveryAttemptCompleted(statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
}

// Result is the per-endpoint outcome of one submission.
type Result struct {
	EndpointID string
	Target     string
	Outcome    domain.Outcome
}

// Dispatcher forwards submissions and routes failures to the retry queue.
type Dispatcher struct {
	configs  ConfigSource
	sender   Sender
	audit    AuditLog
	queue    Enqueuer
	limiter  Limiter
	cities   transform.CityResolver
	notifier Notifier    // optional, nil = disabled
	breaker  Breaker     // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

// New creates a dispatcher.
func New(configs ConfigSource, sender Sender, audit AuditLog, queue Enqueuer, limiter Limiter, cities transform.CityResolver) *Dispatcher {
	return &Dispatcher{
		configs: configs,
		sender:  sender,
		audit:   audit,
		queue:   queue,
		limiter: limiter,
		cities:  cities,
		clock:   time.Now,
	}
}

// WithNotifier attaches the failure notifier.
func (d *Dispatcher) WithNotifier(n Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// WithBreaker attaches a circuit breaker for first-pass deliveries.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink.
func (d *Dispatcher) WithMetrics(m MetricsSink) *Dispatcher {
	d.metrics = m
	return d
}

// WithClock overrides the time source, for tests.
func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Handle processes one form submission end to end: rate limit, normalize,
// transform per endpoint, deliver, audit, and queue failures for retry.
// Results come back in endpoint configuration order.
func (d *Dispatcher) Handle(ctx context.Context, formID string, raw map[string]any, clientIP string) ([]Result, error) {
	if d.metrics != nil {
		d.metrics.SubmissionReceived(formID)
	}

	// Config resolution comes before rate limiting: submissions for forms
	// this relay does not handle never consume quota.
	config, err := d.configs.GetEnabledFormConfig(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("get form config: %w", err)
	}
	if config == nil {
		// Submissions for unconfigured or disabled forms are dropped, not
		// rejected: the intake side must never see an error for them.
		log.Printf("dispatcher: form=%s has no enabled configuration, ignoring", formID)
		return nil, nil
	}

	settings, err := d.configs.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}

	if !d.limiter.Allow(ctx, clientIP, settings) {
		out := domain.Outcome{OK: false, Code: 429, Error: ErrRateLimited.Error()}
		d.appendAudit("rate_limit", nil, out, formID)
		if d.metrics != nil {
			d.metrics.RateLimitRejected()
		}
		log.Printf("dispatcher: form=%s ip=%s rejected by rate limit", formID, clientIP)
		return nil, ErrRateLimited
	}

	fields := transform.Normalize(raw)

	results := make([]Result, 0, len(config.Endpoints))
	for _, ep := range config.Endpoints {
		if !ep.Enabled || ep.URL == "" {
			continue
		}
		out := d.deliver(ctx, ep, fields, settings, formID)
		results = append(results, Result{EndpointID: ep.ID, Target: ep.Target(), Outcome: out})
	}
	return results, nil
}

// deliver sends to one endpoint and handles the failure path. Every
// attempt, including circuit-broken ones, leaves an audit record.
func (d *Dispatcher) deliver(ctx context.Context, ep domain.Endpoint, fields domain.Fields, settings domain.Settings, formID string) domain.Outcome {
	payload := transform.Apply(ctx, ep, fields, d.cities)

	var out domain.Outcome
	if d.breaker != nil && d.breaker.Allow(ep.URL) != nil {
		out = domain.Outcome{OK: false, Code: 0, Error: "circuit breaker open"}
	} else {
		start := d.clock()
		out = d.sender.Send(ctx, ep.URL, payload, true)
		if d.metrics != nil {
			d.metrics.DeliveryAttemptCompleted(metrics.ClassifyStatus(out.Code, out.Error), d.clock().Sub(start))
		}
		if d.breaker != nil {
			if out.OK {
				d.breaker.RecordSuccess(ep.URL)
			} else {
				d.breaker.RecordFailure(ep.URL)
			}
		}
	}

	d.appendAudit(ep.Target(), payload, out, formID)

	if out.OK {
		log.Printf("dispatcher: form=%s endpoint=%s delivered (%d)", formID, ep.Target(), out.Code)
		if d.metrics != nil {
			d.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
		}
		return out
	}

	log.Printf("dispatcher: form=%s endpoint=%s failed: %s", formID, ep.Target(), out.FailureMessage())
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	}

	if settings.NotifyOnFailure && d.notifier != nil {
		d.notifier.DeliveryFailed(settings.NotifyEmail, ep.Target(), formID, out)
	}

	if settings.RetryMax > 0 {
		if err := d.queue.Enqueue(ctx, ep, payload, formID, out.FailureMessage()); err != nil {
			log.Printf("dispatcher: enqueue for %s failed: %v", ep.Target(), err)
		}
	}
	return out
}

// TestSend delivers a synthetic submission to a single endpoint without
// touching the audit log, the retry queue or the breaker. Used by the
// endpoint test operation.
func (d *Dispatcher) TestSend(ctx context.Context, ep domain.Endpoint, raw map[string]any) (map[string]string, domain.Outcome) {
	fields := transform.Normalize(raw)
	payload := transform.Apply(ctx, ep, fields, d.cities)
	out := d.sender.Send(ctx, ep.URL, payload, true)
	return payload, out
}

func (d *Dispatcher) appendAudit(target string, payload map[string]string, out domain.Outcome, formID string) {
	if err := d.audit.Append(target, payload, out, formID); err != nil {
		log.Printf("dispatcher: audit append failed: %v", err)
	}
}
