package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/metrics"
)

// fakeSender — Sender для тестов: первые fails вызовов возвращают err.
type fakeSender struct {
	mu    sync.Mutex
	fails int
	err   error
	calls int
	got   []Message
}

func (s *fakeSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.fails {
		return s.err
	}

	s.got = append(s.got, msg)
	return nil
}

func (s *fakeSender) snapshot() (int, []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]Message(nil), s.got...)
}

func testNotifyCfg() config.NotifyConfig {
	return config.NotifyConfig{
		Workers:     2,
		QueueSize:   4,
		SendTimeout: time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}
}

func newTestDispatcher(s Sender, cfg config.NotifyConfig) *Dispatcher {
	return NewDispatcher(s, cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func TestDispatcher_DeliversAfterClose(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, testNotifyCfg())
	ctx := context.Background()

	for _, to := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		require.NoError(t, d.Send(ctx, Message{To: to, Token: "t", Template: TemplateVerification}))
	}

	d.Run(ctx)
	require.NoError(t, d.Close(ctx))

	_, got := s.snapshot()
	require.Len(t, got, 3)
	for _, m := range got {
		require.NotEmpty(t, m.ID)
		require.False(t, m.CreatedAt.IsZero())
	}
}

func TestDispatcher_ReserveQueueFull(t *testing.T) {
	cfg := testNotifyCfg()
	cfg.QueueSize = 2
	d := newTestDispatcher(&fakeSender{}, cfg)
	ctx := context.Background()

	r1, err := d.Reserve(ctx)
	require.NoError(t, err)
	_, err = d.Reserve(ctx)
	require.NoError(t, err)

	_, err = d.Reserve(ctx)
	require.ErrorIs(t, err, ErrQueueFull)

	r1.Release()
	r3, err := d.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, r3)
}

func TestReservation_SubmitThenReleaseIsNoop(t *testing.T) {
	cfg := testNotifyCfg()
	cfg.QueueSize = 1
	d := newTestDispatcher(&fakeSender{}, cfg)

	r, err := d.Reserve(context.Background())
	require.NoError(t, err)

	r.Submit(Message{To: "a@example.com", Template: TemplatePasswordReset})
	r.Release()

	// Место всё ещё занято сообщением в очереди.
	_, err = d.Reserve(context.Background())
	require.ErrorIs(t, err, ErrQueueFull)
	require.Len(t, d.queue, 1)
}

func TestDispatcher_ReserveAfterClose(t *testing.T) {
	d := newTestDispatcher(&fakeSender{}, testNotifyCfg())
	require.NoError(t, d.Close(context.Background()))

	_, err := d.Reserve(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, d.Send(context.Background(), Message{}), ErrClosed)
}

func TestDispatcher_SubmitAfterCloseDrops(t *testing.T) {
	s := &fakeSender{}
	d := newTestDispatcher(s, testNotifyCfg())

	r, err := d.Reserve(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	r.Submit(Message{To: "late@example.com", Template: TemplateVerification})
	require.Empty(t, d.queue)
	require.Empty(t, d.slots)
}

func TestDispatcher_RetriesTransient(t *testing.T) {
	s := &fakeSender{fails: 2, err: errors.New("smtp 451")}
	d := newTestDispatcher(s, testNotifyCfg())
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, Message{To: "a@example.com", Template: TemplateVerification}))
	d.Run(ctx)
	require.NoError(t, d.Close(ctx))

	calls, got := s.snapshot()
	require.Equal(t, 3, calls)
	require.Len(t, got, 1)
}

func TestDispatcher_PermanentNotRetried(t *testing.T) {
	s := &fakeSender{fails: 10, err: ErrPermanent}
	d := newTestDispatcher(s, testNotifyCfg())
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, Message{To: "a@example.com", Template: TemplateVerification}))
	d.Run(ctx)
	require.NoError(t, d.Close(ctx))

	calls, got := s.snapshot()
	require.Equal(t, 1, calls)
	require.Empty(t, got)
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	s := &fakeSender{fails: 10, err: errors.New("timeout")}
	d := newTestDispatcher(s, testNotifyCfg())
	ctx := context.Background()

	require.NoError(t, d.Send(ctx, Message{To: "a@example.com", Template: TemplatePasswordReset}))
	d.Run(ctx)
	require.NoError(t, d.Close(ctx))

	calls, _ := s.snapshot()
	require.Equal(t, 3, calls)
}

func TestNewID_Monotonic(t *testing.T) {
	now := time.Now()
	a := NewID(now)
	b := NewID(now)

	require.Len(t, a, 26)
	require.Less(t, a, b)
}

func TestLogSender_RedactsToken(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := s.Send(context.Background(), Message{
		ID:       "01HZX",
		To:       "alice@example.com",
		Token:    "super-secret-token",
		Template: TemplateVerification,
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "notification_sent")
	require.Contains(t, out, "al***@example.com")
	require.NotContains(t, out, "super-secret-token")
	require.NotContains(t, out, "alice@example.com")
}
