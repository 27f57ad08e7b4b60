package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

// Watchdog periodically sweeps live sessions. It acts on emergency stop
// flags and on verse1 streams that went quiet.
type Watchdog struct {
	coordinator *Coordinator
	finalizer   *Finalizer
	store       Store
	opts        Options
}

func NewWatchdog(c *Coordinator, f *Finalizer, s Store, opts Options) *Watchdog {
	ensureMetrics()
	return &Watchdog{coordinator: c, finalizer: f, store: s, opts: opts}
}

// Run sweeps on every interval tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.opts.WatchdogInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	util.LogInfo("Watchdog started with interval %v", interval)
	for {
		select {
		case <-ctx.Done():
			util.LogInfo("Watchdog stopped")
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				util.LogError(err, "watchdog sweep failed")
			}
		}
	}
}

// Sweep checks every live session once. Per-session failures are logged and
// do not stop the sweep.
func (w *Watchdog) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	ids, err := w.store.SessionIDs(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(w.opts.WatchdogParallel, 1))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := w.check(gctx, id); err != nil {
				util.Session(id).Warn().Err(err).Msg("watchdog check failed")
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Watchdog) check(ctx context.Context, sessionID string) error {
	status, err := w.store.GetStatus(ctx, sessionID)
	if err != nil {
		return err
	}
	if status == constants.StatusEmergencyInterrupt {
		err := w.finalizer.Interrupt(ctx, sessionID, constants.InterruptReasonEmergency)
		if errors.Is(err, ErrInterruptConflict) || errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	held, err := w.store.LeaseHeld(ctx, sessionID)
	if err != nil || held {
		return err
	}
	s, err := w.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !w.coordinator.stalled(s, w.opts.now()) {
		return nil
	}

	token, ok, err := w.store.AcquireLease(ctx, sessionID, w.opts.LeaseTTL)
	if err != nil || !ok {
		return err
	}
	defer func() {
		if err := w.store.ReleaseLease(context.WithoutCancel(ctx), sessionID, token); err != nil {
			util.Session(sessionID).Warn().Err(err).Msg("failed to release lease")
		}
	}()

	_, err = w.coordinator.ResolveStall(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrStateNotFound) {
		return nil
	}
	return err
}
