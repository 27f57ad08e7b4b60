package session

import (
	"context"
	"errors"
	"sync"
	"time"

	models "github.com/CodeAndHammer/heungbuja/internal/models"
	store "github.com/CodeAndHammer/heungbuja/internal/store"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

// worker is the single goroutine allowed to apply samples for one session.
type worker struct {
	sessionID string
	inbox     chan models.Sample
	state     *models.GameState
}

type workerPool struct {
	coordinator *Coordinator
	queueSize   int
	idle        time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup
}

func newWorkerPool(c *Coordinator, queueSize int, idle time.Duration) *workerPool {
	if queueSize <= 0 {
		queueSize = 64
	}
	if idle <= 0 {
		idle = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &workerPool{
		coordinator: c,
		queueSize:   queueSize,
		idle:        idle,
		ctx:         ctx,
		cancel:      cancel,
		workers:     make(map[string]*worker),
	}
}

// dispatch queues a sample on its session's worker, starting one if needed.
// A full inbox drops the sample rather than block the socket reader.
func (p *workerPool) dispatch(sample models.Sample) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	w, ok := p.workers[sample.SessionID]
	if !ok {
		w = &worker{sessionID: sample.SessionID, inbox: make(chan models.Sample, p.queueSize)}
		p.workers[sample.SessionID] = w
		p.wg.Add(1)
		activeWorkers.Inc()
		go p.run(w)
	}

	select {
	case w.inbox <- sample:
		return true
	default:
		samplesDropped.WithLabelValues("queue_full").Inc()
		util.Session(sample.SessionID).Warn().Float64("play_time", sample.CurrentPlayTime).Msg("sample queue full, dropping sample")
		return false
	}
}

func (p *workerPool) run(w *worker) {
	defer p.wg.Done()
	defer activeWorkers.Dec()

	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		select {
		case sample := <-w.inbox:
			p.handle(w, sample)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idle)
		case <-timer.C:
			p.mu.Lock()
			if len(w.inbox) == 0 {
				delete(p.workers, w.sessionID)
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			timer.Reset(p.idle)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *workerPool) handle(w *worker, sample models.Sample) {
	log := util.Session(w.sessionID)
	if w.state == nil {
		state, err := p.coordinator.store.GetState(p.ctx, w.sessionID)
		if err != nil {
			if errors.Is(err, store.ErrStateNotFound) {
				samplesDropped.WithLabelValues("unknown_session").Inc()
				log.Debug().Msg("sample for unknown session dropped")
				return
			}
			log.Error().Err(err).Msg("failed to load game state")
			return
		}
		w.state = state
	}

	err := p.coordinator.processWithState(p.ctx, w.state, sample)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		samplesDropped.WithLabelValues("unknown_session").Inc()
		log.Debug().Msg("sample for finished session dropped")
	case err != nil:
		log.Error().Err(err).Msg("failed to process sample")
	}
}

func (p *workerPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
