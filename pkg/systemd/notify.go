// Package systemd reports service state to systemd through sd_notify.
//
// Every call is a no-op when the process was not started by systemd
// (NOTIFY_SOCKET unset) or when the notifier is disabled.
package systemd

import (
	"context"
	"fmt"
	"time"

	logx "eventreminder/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	enabled bool
	log     logx.Logger
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{enabled: enabled, log: log}
}

func (n *Notifier) notify(state string) (bool, error) {
	if n == nil || !n.enabled {
		return false, nil
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		return false, fmt.Errorf("sd_notify %q: %w", state, err)
	}
	return sent, nil
}

// Ready reports READY=1. sent is false when no notify socket is present.
func (n *Notifier) Ready() (sent bool, err error) { return n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() (bool, error) { return n.notify(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) (bool, error) { return n.notify("STATUS=" + msg) }

// Watchdog pings WATCHDOG=1 at half the configured WatchdogSec until ctx
// is done. It returns immediately when the unit has no watchdog.
func (n *Notifier) Watchdog(ctx context.Context) error {
	if n == nil || !n.enabled {
		return nil
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if interval <= 0 {
		return nil
	}
	every := interval / 2
	if every < time.Second {
		every = interval
	}
	n.log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := n.notify(daemon.SdNotifyWatchdog); err != nil {
				n.log.Warn("watchdog ping failed", logx.Any("err", err))
			}
		}
	}
}
