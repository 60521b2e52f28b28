// Package notify delivers customer notifications (transaction receipts and
// lockout alerts) off the request path. Delivery failures are logged and
// never reach the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rifqisaleh/revoubank/internal/models"
	"go.uber.org/zap"
)

type Kind string

const (
	TransactionCompleted Kind = "transaction_completed"
	AccountLocked        Kind = "account_locked"
)

type Recipient struct {
	UserID   uint
	Username string
	Email    string
}

type Event struct {
	Kind        Kind
	Recipient   Recipient
	Transaction *models.Transaction
	Account     *models.Account
	LockedUntil time.Time
}

// Notifier accepts events without blocking on delivery.
type Notifier interface {
	Notify(ev Event)
}

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(Event) {}

const sendTimeout = 30 * time.Second

// Dispatcher fans events out to a fixed pool of workers over a bounded
// queue. When the queue is full the event is dropped with a warning.
type Dispatcher struct {
	sender Sender
	log    *zap.Logger
	queue  chan Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		sender: sender,
		log:    log,
		queue:  make(chan Event, queueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

func (d *Dispatcher) Notify(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification after shutdown dropped", zap.String("kind", string(ev.Kind)))
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.log.Warn("notification queue full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.Uint("user_id", ev.Recipient.UserID))
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification sender panicked", zap.Any("panic", r), zap.String("kind", string(ev.Kind)))
		}
	}()

	if ev.Recipient.Email == "" {
		d.log.Debug("recipient has no email, skipping notification", zap.Uint("user_id", ev.Recipient.UserID))
		return
	}
	msg, err := Render(ev)
	if err != nil {
		d.log.Error("failed to render notification", zap.Error(err), zap.String("kind", string(ev.Kind)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.Error("failed to send notification",
			zap.Error(err),
			zap.String("kind", string(ev.Kind)),
			zap.String("to", msg.To))
		return
	}
	d.log.Info("notification sent", zap.String("kind", string(ev.Kind)), zap.String("to", msg.To))
}

