package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"portal-backend/internal/feed"

	"github.com/cenkalti/backoff/v4"
)

// NewBackOff is the default resubscribe policy: exponential, never giving up.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// pump is the single logical timeline of a surface. User actions, send
// completions and feed events all run on its goroutine, one at a time. It
// owns the feed subscription and resubscribes after a disconnect.
type pump struct {
	sub     feed.Subscriber
	filter  func() (feed.Filter, bool)
	onEvent func(feed.Event)
	// onAttach runs after every successful subscribe.
	onAttach func()
	// onDetach runs when the stream ends unexpectedly.
	onDetach func(err error)
	logger   *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	actions chan func()
	done    chan struct{}
	started atomic.Bool

	// Loop-owned.
	stream      feed.Stream
	subscribing bool
	backoff     backoff.BackOff
	retry       *time.Timer
	retryC      <-chan time.Time
}

func newPump(ctx context.Context, sub feed.Subscriber, newBackOff func() backoff.BackOff, logger *slog.Logger) *pump {
	if newBackOff == nil {
		newBackOff = NewBackOff
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &pump{
		sub:     sub,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		actions: make(chan func(), 32),
		done:    make(chan struct{}),
		backoff: newBackOff(),
	}
}

// attach subscribes synchronously. It is used before the loop starts so the
// initial history fetch happens after the subscription is live.
func (p *pump) attach() error {
	f, ok := p.filter()
	if !ok {
		return nil
	}
	s, err := p.sub.Subscribe(p.ctx, f)
	if err != nil {
		p.scheduleRetry(err)
		return err
	}
	p.stream = s
	p.backoff.Reset()
	return nil
}

func (p *pump) start() {
	if p.started.CompareAndSwap(false, true) {
		go p.run()
	}
}

func (p *pump) run() {
	defer close(p.done)
	defer func() {
		if p.stream != nil {
			p.stream.Close()
		}
		if p.retry != nil {
			p.retry.Stop()
		}
	}()

	for {
		var events <-chan feed.Event
		if p.stream != nil {
			events = p.stream.Events()
		}

		select {
		case <-p.ctx.Done():
			return
		case fn := <-p.actions:
			fn()
		case ev, ok := <-events:
			if !ok {
				err := p.stream.Err()
				p.stream = nil
				p.logger.Debug("chat feed detached, resubscribing", "error", err)
				if p.onDetach != nil {
					p.onDetach(err)
				}
				p.scheduleRetry(err)
				continue
			}
			p.onEvent(ev)
		case <-p.retryC:
			p.retry, p.retryC = nil, nil
			p.resubscribe()
		}
	}
}

// resubscribe starts an asynchronous subscribe unless one is live or in
// flight. Loop only.
func (p *pump) resubscribe() {
	if p.stream != nil || p.subscribing || p.retryC != nil {
		return
	}
	f, ok := p.filter()
	if !ok {
		return
	}
	p.subscribing = true
	go func() {
		s, err := p.sub.Subscribe(p.ctx, f)
		posted := p.post(func() {
			p.subscribing = false
			if err != nil {
				p.scheduleRetry(err)
				return
			}
			p.stream = s
			p.backoff.Reset()
			if p.onAttach != nil {
				p.onAttach()
			}
		})
		if !posted && s != nil {
			s.Close()
		}
	}()
}

func (p *pump) scheduleRetry(err error) {
	if p.ctx.Err() != nil || p.retryC != nil {
		return
	}
	wait := p.backoff.NextBackOff()
	if wait == backoff.Stop {
		p.logger.Warn("chat feed resubscribe abandoned", "error", err)
		return
	}
	p.retry = time.NewTimer(wait)
	p.retryC = p.retry.C
}

// post queues fn on the loop. It reports false once the loop has exited.
func (p *pump) post(fn func()) bool {
	select {
	case p.actions <- fn:
		return true
	case <-p.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (p *pump) do(fn func()) bool {
	finished := make(chan struct{})
	if !p.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-p.done:
		return false
	}
}

func (p *pump) close() {
	p.cancel()
	if p.started.CompareAndSwap(false, true) {
		// Never started: release what attach acquired.
		if p.stream != nil {
			p.stream.Close()
		}
		close(p.done)
		return
	}
	<-p.done
}

func (p *pump) connected() bool {
	return p.stream != nil
}
