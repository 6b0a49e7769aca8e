// Package notify — порт исходящих уведомлений (письма с токенами верификации и сброса пароля).
//
// Основные аспекты:
//   - сервис не ждёт доставки: сообщение ставится в ограниченную очередь
//     и отправляется воркерами Dispatcher уже после коммита транзакции;
//   - для путей, где отказ должен вернуться клиенту, место в очереди
//     резервируется заранее (Reserve), до записи в БД;
//   - сама доставка (SMTP и т.п.) скрыта за интерфейсом Sender.
package notify

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/redact"
)

var (
	// ErrPermanent — отправка невозможна в принципе, повтор бессмыслен.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrQueueFull — очередь заполнена, резерв не выдан.
	ErrQueueFull = errors.New("notification queue is full")
	// ErrClosed — диспетчер остановлен.
	ErrClosed = errors.New("notification dispatcher is closed")
)

// Template — шаблон письма.
type Template string

const (
	TemplateVerification  Template = "verification"
	TemplatePasswordReset Template = "password_reset"
)

// Message — одно исходящее уведомление.
// Token — открытое значение одноразового токена; в логи попадает только отпечаток.
type Message struct {
	ID        string
	To        string
	Token     string
	Template  Template
	CreatedAt time.Time
}

// Sender доставляет сообщение получателю.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID возвращает монотонный ULID для сообщения.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// LogSender — адаптер по умолчанию: пишет факт отправки в лог без самого токена.
type LogSender struct {
	Logger *slog.Logger
}

// Send логирует сообщение.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	lg := s.Logger
	if lg == nil {
		lg = log.From(ctx)
	}

	lg.Info("notification_sent",
		slog.String("id", msg.ID),
		slog.String("template", string(msg.Template)),
		slog.String("to", redact.Email(msg.To)),
		slog.String("token", redact.Token(msg.Token)),
	)

	return nil
}
