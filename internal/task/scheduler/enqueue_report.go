package scheduler

import (
	"errors"
	"time"

	"eventreminder/internal/task/engine"
	logx "eventreminder/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (r *Registry) reportEnqueueError(key JobKey, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrDeferred) {
		r.log.Debug("firing deferred behind running instance", logx.String("job", string(key)))
		return
	}

	now := time.Now()
	r.enqMu.Lock()
	last := r.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		r.enqMu.Unlock()
		return
	}
	r.lastEnqWarn[key] = now
	r.enqMu.Unlock()

	r.log.Warn("firing failed to enqueue", logx.String("job", string(key)), logx.Err(err))
}
