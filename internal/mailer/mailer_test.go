package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	logx "eventreminder/pkg/logx"
)

type fakeTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	from     string
	to       []string
	msg      []byte
}

func (f *fakeTransport) Deliver(ctx context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("451 try again later")
	}
	f.from, f.to, f.msg = from, append([]string(nil), to...), append([]byte(nil), msg...)
	return nil
}

func newTestMailer(t *testing.T, tr Transport, retryMax int) *Mailer {
	t.Helper()
	m, err := New(Config{
		From:          "Reminders <reminders@example.com>",
		RetryMax:      retryMax,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}, tr, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return m
}

func TestSendRetriesThenDelivers(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{failures: 2}
	m := newTestMailer(t, tr, 3)
	if err := m.Send(context.Background(), "reminder", "see you soon", []string{"one@example.com"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if tr.calls != 3 {
		t.Fatalf("calls=%d, want 3", tr.calls)
	}
	if tr.from != "reminders@example.com" || len(tr.to) != 1 || tr.to[0] != "one@example.com" {
		t.Fatalf("envelope from=%q to=%v", tr.from, tr.to)
	}
}

func TestSendGivesUp(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{failures: 10}
	m := newTestMailer(t, tr, 1)
	err := m.Send(context.Background(), "reminder", "body", []string{"one@example.com"})
	if err == nil || !strings.Contains(err.Error(), "451") {
		t.Fatalf("err=%v", err)
	}
	if tr.calls != 2 {
		t.Fatalf("calls=%d, want 2", tr.calls)
	}
}

func TestSendRejectsEmptyRecipients(t *testing.T) {
	t.Parallel()

	m := newTestMailer(t, &fakeTransport{}, 0)
	if err := m.Send(context.Background(), "reminder", "body", []string{" ", ""}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("err=%v, want ErrNoRecipients", err)
	}
}

func TestNewRequiresSender(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, &fakeTransport{}, logx.Nop(), nil); !errors.Is(err, ErrNoSender) {
		t.Fatalf("err=%v, want ErrNoSender", err)
	}
}

func TestComposeHeaders(t *testing.T) {
	t.Parallel()

	date := time.Date(2031, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := Compose("Reminders <reminders@example.com>", []string{"one@example.com"}, "reminder", "Upcoming event! Grüße", date)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if subj, _ := r.Header.Subject(); subj != "reminder" {
		t.Fatalf("subject=%q", subj)
	}
	if got, _ := r.Header.Date(); !got.Equal(date) {
		t.Fatalf("date=%s", got)
	}
	to, _ := r.Header.AddressList("To")
	if len(to) != 1 || to[0].Address != "one@example.com" {
		t.Fatalf("to=%v", to)
	}
	if id, _ := r.Header.MessageID(); id == "" {
		t.Fatalf("missing message id")
	}
	p, err := r.NextPart()
	if err != nil {
		t.Fatalf("part: %v", err)
	}
	body, _ := io.ReadAll(p.Body)
	if string(body) != "Upcoming event! Grüße" {
		t.Fatalf("body=%q", body)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	if m, err := Open(Config{Driver: "log"}, logx.Nop(), nil); err != nil || m == nil {
		t.Fatalf("log driver: %v", err)
	}
	if _, err := Open(Config{Driver: "pigeon"}, logx.Nop(), nil); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "smtp", From: "a@example.com", SMTP: SMTPConfig{Host: "localhost"}}, logx.Nop(), nil); err != nil {
		t.Fatalf("smtp driver: %v", err)
	}
}
