package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
)

// Recover перехватывает панику обработчика, пишет её со стеком уровнем Error
// и отвечает codes.Internal с нейтральным сообщением.
// Логгер берётся из контекста, если его положил UnaryLoggingInterceptor, иначе base.
func Recover(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		l := log.From(ctx)
		if l == slog.Default() && base != nil {
			l = base
		}

		defer func() {
			if r := recover(); r != nil {
				l.Error("panic_recovered",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				resp = nil
				err = status.Error(codes.Internal, apperr.InternalMessage)
			}
		}()

		return handler(ctx, req)
	}
}
