package apperr

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// APIError — единый формат ошибки для внешнего слоя.
// Code — короткий стабильный код, Message — безопасное описание.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse — корневой объект ответа с ошибкой.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// HTTPStatus — таблица Kind -> HTTP-статус:
//   - ValidationFailed -> 400;
//   - InvalidCredentials/InvalidToken/TokenReused/TokenExpired/Unauthenticated -> 401;
//   - InvalidOrExpiredToken/InvalidOldPassword -> 400;
//   - NotVerified/Forbidden -> 403;
//   - NotFound -> 404;
//   - DuplicateAccount/AlreadyRevoked -> 409;
//   - RateLimited -> 429;
//   - NotificationFailed -> 503;
//   - прочее -> 500.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidationFailed, KindInvalidOrExpiredToken, KindInvalidOldPassword:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindInvalidToken, KindTokenReused, KindTokenExpired, KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotVerified, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateAccount, KindAlreadyRevoked:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotificationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode — та же таблица для gRPC.
func GRPCCode(k Kind) codes.Code {
	switch k {
	case KindValidationFailed, KindInvalidOrExpiredToken, KindInvalidOldPassword:
		return codes.InvalidArgument
	case KindInvalidCredentials, KindInvalidToken, KindTokenReused, KindTokenExpired, KindUnauthenticated:
		return codes.Unauthenticated
	case KindNotVerified:
		return codes.FailedPrecondition
	case KindForbidden:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindDuplicateAccount, KindAlreadyRevoked:
		return codes.AlreadyExists
	case KindRateLimited:
		return codes.ResourceExhausted
	case KindNotificationFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ToHTTP конвертирует ошибку ядра в HTTP-статус и тело ответа.
//
// Поведение:
//   - err == nil — программная ошибка вызова: 500/internal, чтобы не отдать
//     "200 OK" с телом ошибки;
//   - не-доменная ошибка — 500/internal без деталей;
//   - доменная ошибка — статус по HTTPStatus и безопасное сообщение.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{
			Error: APIError{Code: KindInternal.String(), Message: InternalMessage},
		}
	}

	k := KindOf(err)

	return HTTPStatus(k), ErrorResponse{
		Error: APIError{Code: k.String(), Message: SafeMessage(err)},
	}
}

// ToStatus конвертирует ошибку ядра в gRPC-статус.
// Уже готовый gRPC-статус пропускается без изменений.
func ToStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}

	if st, ok := status.FromError(err); ok {
		return st
	}

	k := KindOf(err)

	return status.New(GRPCCode(k), SafeMessage(err))
}
