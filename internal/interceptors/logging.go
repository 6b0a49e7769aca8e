// interceptors содержит unary-интерсепторы gRPC-сервера: логирование с request_id,
// восстановление после паник, дедлайн по умолчанию и маппинг доменных ошибок в статусы.
package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-billing-auth/internal/pkg/log"
)

const requestIDKey = "x-request-id"

// UnaryLoggingInterceptor логирует unary-вызовы и кладёт обогащённый логгер в контекст.
//
// Поведение:
//   - request_id берётся из metadata x-request-id, иначе генерируется UUID,
//     и возвращается клиенту заголовком;
//   - логгер с request_id, method и peer доступен ниже по стеку через log.From;
//   - по завершении пишется одна запись msg="grpc" с code и dur:
//     Error для Internal/Unknown/DataLoss, Warn для прочих ошибок, иначе Info.
func UnaryLoggingInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		rid := requestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, rid))

		peerStr := "-"
		if p, ok := peer.FromContext(ctx); ok && p != nil && p.Addr != nil {
			peerStr = p.Addr.String()
		}

		l := base.With(
			slog.String("request_id", rid),
			slog.String("method", info.FullMethod),
			slog.String("peer", peerStr),
		)
		ctx = log.Into(ctx, l)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		l.Log(ctx, levelFor(code), "grpc",
			slog.String("code", code.String()),
			slog.Duration("dur", time.Since(start)),
		)

		return resp, err
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}

	return uuid.NewString()
}

func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
