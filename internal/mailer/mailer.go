package mailer

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/time/rate"

	"eventreminder/internal/domain"
	"eventreminder/internal/metrics"
	logx "eventreminder/pkg/logx"
)

// Mailer composes messages and delivers them through a Transport.
//
// It is safe for concurrent use.
type Mailer struct {
	cfg       Config
	envelope  string
	transport Transport
	limiter   *rate.Limiter
	log       logx.Logger
	metrics   metrics.Sink

	rmu sync.Mutex
	rng *rand.Rand
}

func New(cfg Config, transport Transport, log logx.Logger, sink metrics.Sink) (*Mailer, error) {
	from, err := mail.ParseAddress(strings.TrimSpace(cfg.From))
	if err != nil || from.Address == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoSender, cfg.From)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	m := &Mailer{
		cfg:       cfg,
		envelope:  from.Address,
		transport: transport,
		log:       log,
		metrics:   sink,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.RatePerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return m, nil
}

// Send delivers one message to recipients, retrying up to RetryMax times.
// It returns the last delivery error once attempts are exhausted.
func (m *Mailer) Send(ctx context.Context, subject, body string, recipients []string) error {
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}
	msg, err := Compose(m.cfg.From, to, subject, body, time.Now())
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	maxAttempts := 1
	if m.cfg.RetryMax > 0 {
		maxAttempts = 1 + m.cfg.RetryMax
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		err := m.transport.Deliver(callCtx, m.envelope, to, msg)
		cancel()
		m.metrics.DeliveryAttempt(attempt, err == nil)
		if err == nil {
			m.log.Debug("mail delivered", logx.Any("to", to), logx.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		m.log.Debug("mail delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(m.retryDelay(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("deliver to %s after %d attempt(s): %w", strings.Join(to, ","), maxAttempts, lastErr)
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func (m *Mailer) retryDelay(attempt int) time.Duration {
	d := m.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.RetryMaxDelay {
			d = m.cfg.RetryMaxDelay
			break
		}
	}
	m.rmu.Lock()
	j := 0.7 + m.rng.Float64()*0.6
	m.rmu.Unlock()
	d = time.Duration(float64(d) * j)
	if d > m.cfg.RetryMaxDelay {
		d = m.cfg.RetryMaxDelay
	}
	return d
}

// LogMailer writes every message to the log instead of sending it.
type LogMailer struct {
	log logx.Logger
}

func NewLogMailer(log logx.Logger) *LogMailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogMailer{log: log}
}

func (l *LogMailer) Send(ctx context.Context, subject, body string, recipients []string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	l.log.Info("mail (dry run)", logx.String("subject", subject), logx.Any("to", recipients), logx.String("body", body))
	return nil
}

// Open builds the mailer selected by cfg.Driver.
func Open(cfg Config, log logx.Logger, sink metrics.Sink) (domain.Mailer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "log":
		return NewLogMailer(log), nil
	case "smtp":
		return New(cfg, NewSMTPTransport(cfg.SMTP), log, sink)
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.Driver)
	}
}
