package interceptors

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
)

// ErrorMapping переводит ошибки обработчика в gRPC-статусы через apperr.ToStatus.
//
// Доменная ошибка получает свой код и безопасное сообщение; всё остальное
// становится codes.Internal с InternalMessage, а полная причина пишется в лог.
// Готовые gRPC-статусы не меняются.
func ErrorMapping() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		st := apperr.ToStatus(err)
		if st.Code() == codes.Internal {
			log.From(ctx).Error("internal_error",
				slog.String("method", info.FullMethod),
				slog.String("err", err.Error()),
			)
		}

		return nil, st.Err()
	}
}
