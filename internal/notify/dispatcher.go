package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/metrics"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/redact"
)

// Dispatcher — асинхронный отправщик уведомлений.
//
// Описание:
//   - очередь ограничена QueueSize; место занимает и резерв, и сообщение в очереди,
//     поэтому Submit по выданному резерву никогда не блокируется;
//   - Workers воркеров забирают сообщения, темп отправки ограничен rate.Limiter;
//   - временные ошибки Sender повторяются до MaxAttempts раз с линейной паузой,
//     ErrPermanent не повторяется;
//   - Close прекращает приём и дожидается доставки уже поставленных сообщений.
type Dispatcher struct {
	cfg     config.NotifyConfig
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time

	slots chan struct{}
	queue chan Message

	mu       sync.RWMutex
	closed   bool
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option — опция диспетчера.
type Option func(*Dispatcher)

// WithLogger задаёт логгер воркеров.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher создаёт диспетчер. Воркеры стартуют в Run.
func NewDispatcher(sender Sender, cfg config.NotifyConfig, opts ...Option) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	d := &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		now:     time.Now,
		slots:   make(chan struct{}, cfg.QueueSize),
		queue:   make(chan Message, cfg.QueueSize),
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Reservation — занятое место в очереди.
// Ровно один из Submit/Release имеет эффект, повторные вызовы игнорируются.
type Reservation struct {
	d    *Dispatcher
	once sync.Once
}

// Reserve занимает место в очереди без ожидания.
func (d *Dispatcher) Reserve(ctx context.Context) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	select {
	case d.slots <- struct{}{}:
		return &Reservation{d: d}, nil
	default:
		return nil, ErrQueueFull
	}
}

// Submit ставит сообщение в очередь по резерву.
func (r *Reservation) Submit(msg Message) {
	if r == nil {
		return
	}

	r.once.Do(func() { r.d.enqueue(msg) })
}

// Release возвращает неиспользованное место.
func (r *Reservation) Release() {
	if r == nil {
		return
	}

	r.once.Do(func() { <-r.d.slots })
}

// Send — отправка без резерва заранее: ошибка означает, что сообщение не принято.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	r, err := d.Reserve(ctx)
	if err != nil {
		return err
	}

	r.Submit(msg)
	return nil
}

func (d *Dispatcher) enqueue(msg Message) {
	const op = "notify.Dispatcher.enqueue"

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = d.now().UTC()
	}
	if msg.ID == "" {
		msg.ID = NewID(msg.CreatedAt)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		<-d.slots
		d.metrics.Notification(string(msg.Template), "dropped")
		d.logger.Warn("notification_dropped",
			slog.String("op", op),
			slog.String("id", msg.ID),
			slog.String("template", string(msg.Template)),
		)
		return
	}

	d.queue <- msg
	d.metrics.QueueDepth(len(d.queue))
}

// Run запускает воркеров. Повторный вызов ничего не делает.
// Воркеры завершаются по Close (с дренажом очереди) или по отмене ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}

	d.logger.Info("notify_dispatcher_started",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("queue_size", d.cfg.QueueSize),
	)
}

// Close прекращает приём и ждёт, пока воркеры доставят очередь, но не дольше ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stop) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if n := len(d.queue); n > 0 {
			d.logger.Warn("notify_dispatcher_closed_with_pending", slog.Int("pending", n))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.queue:
			d.dequeued()
			d.deliver(ctx, msg)
		case <-d.stop:
			for {
				select {
				case msg := <-d.queue:
					d.dequeued()
					d.deliver(ctx, msg)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) dequeued() {
	<-d.slots
	d.metrics.QueueDepth(len(d.queue))
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	const op = "notify.Dispatcher.deliver"

	lg := d.logger.With(
		slog.String("op", op),
		slog.String("id", msg.ID),
		slog.String("template", string(msg.Template)),
	)

	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = d.limiter.Wait(ctx); err != nil {
			break
		}

		err = d.sendOnce(ctx, msg)
		if err == nil {
			d.metrics.Notification(string(msg.Template), "sent")
			return
		}

		if errors.Is(err, ErrPermanent) || attempt == d.cfg.MaxAttempts {
			break
		}

		lg.Warn("notification_retry",
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
		)

		if !sleepCtx(ctx, d.cfg.Backoff*time.Duration(attempt)) {
			err = ctx.Err()
			break
		}
	}

	d.metrics.Notification(string(msg.Template), "failed")
	lg.Error("notification_failed",
		slog.String("to", redact.Email(msg.To)),
		slog.String("err", err.Error()),
	)
}

func (d *Dispatcher) sendOnce(ctx context.Context, msg Message) error {
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	return d.sender.Send(ctx, msg)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
