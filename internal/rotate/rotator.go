package rotate

import (
	"context"
	"sync"
	"time"

	"crewdesk.io/internal/obs"
	"crewdesk.io/internal/qrtoken"
)

// Rotator periodically reissues the venue QR token and sweeps expired
// history. It is constructed and owned by the host process; there is no
// package-level singleton and no self-scheduling state.
type Rotator struct {
	issuer   qrtoken.Service
	interval time.Duration
	validity time.Duration

	// cleanupEvery counts rotation ticks between CleanupExpired calls.
	cleanupEvery int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds a Rotator. The validity window should exceed the interval a
// little so the displayed code never goes dark between rotations.
func New(issuer qrtoken.Service, interval, validity time.Duration) *Rotator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if validity <= 0 {
		validity = interval + 15*time.Second
	}
	return &Rotator{
		issuer:       issuer,
		interval:     interval,
		validity:     validity,
		cleanupEvery: 20,
	}
}

// Start launches the rotation loop. Calling Start on a running rotator is a
// no-op.
func (r *Rotator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx)
}

// Stop halts the loop and waits for it to exit.
func (r *Rotator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Rotator) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.rotate(ctx)
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rotate(ctx)
			ticks++
			if ticks%r.cleanupEvery == 0 {
				if _, err := r.issuer.CleanupExpired(ctx); err != nil {
					r.logError("token cleanup failed", err)
				}
			}
		}
	}
}

func (r *Rotator) rotate(ctx context.Context) {
	tok, err := r.issuer.Generate(ctx, r.validity, "rotator")
	if err != nil {
		r.logError("token rotation failed", err)
		return
	}
	obs.IncTokenIssued()
	obs.LogRequest(map[string]any{
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
		"level":    "info",
		"msg":      "qr token rotated",
		"sequence": tok.SequenceNumber,
		"valid_to": tok.ValidTo.Format(time.RFC3339),
	})
}

func (r *Rotator) logError(msg string, err error) {
	obs.LogRequest(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   msg,
		"error": err.Error(),
	})
}
