// Package notify emails the operator about failed lead deliveries.
// Notices go through a bounded channel drained by a single goroutine so a
// slow SMTP server can never stall a submission; when the buffer is full
// the notice is dropped with a log line.
package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
)

// Notice kinds, used as the metrics label.
const (
	KindDeliveryFailed = "delivery_failed"
	KindFinalFailure   = "final_failure"
)

const defaultBuffer = 64

// MetricsSink records sent notifications, fire-and-forget.
type MetricsSink interface {
	NotificationSent(kind string)
}

type notice struct {
	kind    string
	to      string
	subject string
	body    string
}

// Mailer queues and sends operator notices. With an empty SMTP address the
// mailer only logs, so notification wiring stays identical in development.
type Mailer struct {
	addr       string
	from       string
	fallbackTo string
	siteURL    string
	ch         chan notice
	metrics    MetricsSink // optional, nil = disabled
	clock      func() time.Time
	sendFn     func(addr, from string, to []string, msg []byte) error
}

// NewMailer creates a mailer. addr is the host:port of the SMTP server,
// empty for log-only mode. fallbackTo receives notices whose recipient is
// not configured.
func NewMailer(addr, from, fallbackTo, siteURL string) *Mailer {
	return &Mailer{
		addr:       addr,
		from:       from,
		fallbackTo: fallbackTo,
		siteURL:    siteURL,
		ch:         make(chan notice, defaultBuffer),
		clock:      time.Now,
		sendFn: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// WithMetrics attaches a metrics sink.
func (m *Mailer) WithMetrics(sink MetricsSink) *Mailer {
	m.metrics = sink
	return m
}

// WithSendFunc overrides the SMTP send function, for tests.
func (m *Mailer) WithSendFunc(fn func(addr, from string, to []string, msg []byte) error) *Mailer {
	m.sendFn = fn
	return m
}

// WithClock overrides the time source, for tests.
func (m *Mailer) WithClock(clock func() time.Time) *Mailer {
	m.clock = clock
	return m
}

// Run delivers queued notices until ctx is cancelled, then sends whatever
// is still buffered before returning.
func (m *Mailer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case n := <-m.ch:
			m.deliver(n)
		}
	}
}

// drain empties the buffer. Notices enqueued after this returns are lost;
// by then the queue and dispatcher have already stopped producing.
func (m *Mailer) drain() {
	for {
		select {
		case n := <-m.ch:
			m.deliver(n)
		default:
			return
		}
	}
}

// DeliveryFailed reports one failed first-pass delivery.
func (m *Mailer) DeliveryFailed(to, target, formID string, out domain.Outcome) {
	now := m.clock().UTC()
	body := fmt.Sprintf("Lead delivery failed.\n\nForm: %s\nEndpoint: %s\nError: %s\nTime: %s\n",
		formID, target, out.FailureMessage(), now.Format(time.RFC3339))
	if m.siteURL != "" {
		body += "\nSite: " + m.siteURL + "\n"
	}
	m.enqueue(notice{
		kind:    KindDeliveryFailed,
		to:      to,
		subject: "Lead delivery failed: " + target,
		body:    body,
	})
}

// FinalFailure reports a task dropped from the retry queue after
// exhausting its attempts, including the full error history.
func (m *Mailer) FinalFailure(to string, task domain.Task) {
	body := fmt.Sprintf("Lead delivery abandoned after %d attempts.\n\nForm: %s\nEndpoint: %s\n\nHistory:\n%s\n",
		task.Attempts, task.FormID, task.TargetName(), strings.Join(task.Errors, "\n"))
	if m.siteURL != "" {
		body += "\nSite: " + m.siteURL + "\n"
	}
	m.enqueue(notice{
		kind:    KindFinalFailure,
		to:      to,
		subject: "Lead delivery abandoned: " + task.TargetName(),
		body:    body,
	})
}

func (m *Mailer) enqueue(n notice) {
	if n.to == "" {
		n.to = m.fallbackTo
	}
	if n.to == "" {
		log.Printf("notify: no recipient configured, dropping %s notice", n.kind)
		return
	}
	select {
	case m.ch <- n:
	default:
		log.Printf("notify: queue full, dropping %s notice for %s", n.kind, n.to)
	}
}

func (m *Mailer) deliver(n notice) {
	if m.addr == "" {
		log.Printf("notify: smtp disabled, would send %q to %s", n.subject, n.to)
		return
	}

	msg := buildMessage(m.from, n.to, n.subject, n.body)
	if err := m.sendFn(m.addr, m.from, []string{n.to}, msg); err != nil {
		log.Printf("notify: send to %s failed: %v", n.to, err)
		return
	}
	log.Printf("notify: sent %s notice to %s", n.kind, n.to)
	if m.metrics != nil {
		m.metrics.NotificationSent(n.kind)
	}
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
