package mailer

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoRecipients = errors.New("no recipients")
	ErrNoSender     = errors.New("sender address is required")
)

// Config controls mail delivery. The app layer maps config.mailer into it.
type Config struct {
	// Driver is "smtp" or "log".
	Driver string
	From   string
	SMTP   SMTPConfig

	// RatePerSec bounds deliveries across all callers. 0 means unlimited.
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS bool
	DialTimeout time.Duration
}

// Transport moves one composed message to its recipients.
type Transport interface {
	Deliver(ctx context.Context, from string, to []string, msg []byte) error
}
