package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Painter/lib/sl"
)

const workerIdleTimeout = time.Minute

// HandlerFunc processes one message of a chat.
type HandlerFunc func(ctx context.Context, chatId int64, text string)

type chatWorker struct {
	jobs chan string
}

// Dispatcher runs one worker per chat: messages of a chat are handled in
// arrival order, different chats run in parallel.
type Dispatcher struct {
	handle    HandlerFunc
	queueSize int
	idle      time.Duration
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[int64]*chatWorker
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(handle HandlerFunc, queueSize int, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handle:    handle,
		queueSize: queueSize,
		idle:      workerIdleTimeout,
		log:       log.With(sl.Module("dispatcher")),
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[int64]*chatWorker),
	}
}

// Enqueue queues text for the chat's worker. It returns false when the
// dispatcher is stopped or the chat's queue is full.
func (d *Dispatcher) Enqueue(chatId int64, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	w, ok := d.workers[chatId]
	if !ok {
		w = &chatWorker{jobs: make(chan string, d.queueSize)}
		d.workers[chatId] = w
		d.wg.Add(1)
		go d.run(chatId, w)
	}

	select {
	case w.jobs <- text:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run(chatId int64, w *chatWorker) {
	defer d.wg.Done()
	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	for {
		select {
		case text, ok := <-w.jobs:
			if !ok {
				return
			}
			if d.ctx.Err() != nil {
				// shutdown window is over; the rest of the queue is dropped
				d.log.With(sl.User(chatId), sl.Text(text)).Warn("message dropped on shutdown")
				continue
			}
			d.process(chatId, text)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.idle)
		case <-idle.C:
			d.mu.Lock()
			if len(w.jobs) == 0 && !d.closed {
				delete(d.workers, chatId)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			idle.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) process(chatId int64, text string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.With(sl.User(chatId)).Error("handler panic", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	d.handle(d.ctx, chatId, text)
}

// Stop refuses new messages and waits for queued ones. When ctx expires
// first, running handlers see their context cancelled and messages still
// queued are dropped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, w := range d.workers {
			close(w.jobs)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
