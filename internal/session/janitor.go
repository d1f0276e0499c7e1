package session

import (
	"context"
	"log"
	"time"
)

// Janitor periodically sweeps idle sessions out of a Store. Sessions hold no
// durable state, so dropping an idle one only costs the client its recent
// message window.
type Janitor struct {
	store    *Store
	maxIdle  time.Duration
	interval time.Duration
	logger   *log.Logger
}

// NewJanitor builds a Janitor. A zero maxIdle or interval disables it.
func NewJanitor(store *Store, maxIdle, interval time.Duration, logger *log.Logger) *Janitor {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &Janitor{store: store, maxIdle: maxIdle, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled. Call it from its own
// goroutine.
func (j *Janitor) Run(ctx context.Context) {
	if j.maxIdle <= 0 || j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.store.Sweep(j.maxIdle); n > 0 {
				j.logger.Printf("swept %d idle sessions, %d live", n, j.store.Len())
			}
		}
	}
}
