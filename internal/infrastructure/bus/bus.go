// Package bus is an in-memory event bus for in-process fanout of order
// lifecycle events. It is not durable; notification delivery is
// fire-and-forget by contract, so lost events on crash are acceptable here.
package bus

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/schooleats/orderflow/internal/domain/event"

	"go.uber.org/zap"
)

const handlerTimeout = 30 * time.Second

type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]event.Handler
	queue       chan event.Event
	startOnce   sync.Once
	stopOnce    sync.Once
	cancel      context.CancelFunc
	concurrency int
	log         *zap.Logger
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:        make(map[string][]event.Handler),
		queue:       make(chan event.Event, 1024),
		concurrency: 8,
		log:         logger.With(zap.String("component", "event_bus")),
	}
}

func (b *Bus) Subscribe(eventName string, h event.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go b.dispatchLoop(bg)
		b.log.Info("event_bus_started")
	})
}

func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		close(b.queue)
		b.log.Info("event_bus_stopped")
	})
}

func (b *Bus) Publish(ctx context.Context, e event.Event) error {
	if e == nil {
		return nil
	}
	select {
	case b.queue <- e:
		return nil
	case <-ctx.Done():
		b.log.Warn("event_enqueue_aborted",
			zap.String("event", e.EventName()),
			zap.Error(ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-b.queue:
			if !ok {
				return
			}
			b.fanout(ctx, e)
		}
	}
}

func (b *Bus) fanout(ctx context.Context, e event.Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]event.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup

	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event_handler_panic",
						zap.String("event", name),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
			err := h(hctx, e)
			cancel()
			if err != nil {
				b.log.Warn("event_handler_error",
					zap.String("event", name),
					zap.Error(err),
				)
			}
		}()
	}

	wg.Wait()
}
