// apperr описывает таксономию доменных ошибок auth-ядра и их
// трансляцию в транспортные коды.
//
// Каждая ошибка несёт:
//   - Kind — стабильный вид ошибки для маппинга и машинной обработки;
//   - Message — безопасное для клиента сообщение;
//   - Err — внутреннюю причину (цепочка ошибок), которая наружу не уходит.
//
// Для KindInternal клиент всегда получает только "internal server error".
package apperr

import (
	"errors"
	"fmt"
)

// Kind — вид доменной ошибки.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidationFailed
	KindDuplicateAccount
	KindInvalidCredentials
	KindNotVerified
	KindInvalidToken
	KindTokenReused
	KindTokenExpired
	KindAlreadyRevoked
	KindInvalidOrExpiredToken
	KindInvalidOldPassword
	KindForbidden
	KindUnauthenticated
	KindNotificationFailed
	KindNotFound
	KindRateLimited
)

var kindCodes = map[Kind]string{
	KindInternal:              "internal",
	KindValidationFailed:      "validation_failed",
	KindDuplicateAccount:      "duplicate_account",
	KindInvalidCredentials:    "invalid_credentials",
	KindNotVerified:           "not_verified",
	KindInvalidToken:          "invalid_token",
	KindTokenReused:           "token_reused",
	KindTokenExpired:          "token_expired",
	KindAlreadyRevoked:        "already_revoked",
	KindInvalidOrExpiredToken: "invalid_or_expired_token",
	KindInvalidOldPassword:    "invalid_old_password",
	KindForbidden:             "forbidden",
	KindUnauthenticated:       "unauthenticated",
	KindNotificationFailed:    "notification_failed",
	KindNotFound:              "not_found",
	KindRateLimited:           "rate_limited",
}

// String возвращает короткий стабильный код вида ошибки.
func (k Kind) String() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}

	return kindCodes[KindInternal]
}

// InternalMessage — единственное сообщение, которое видит клиент при KindInternal.
const InternalMessage = "internal server error"

// Error — структурированная доменная ошибка.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

// New создаёт ошибку-эталон заданного вида (без причины).
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap создаёт ошибку вида kind с внутренней причиной err.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Op: op, Err: err}
}

// Internal оборачивает неожиданную ошибку в KindInternal.
// Если err уже доменная, возвращается как есть.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}

	var de *Error
	if errors.As(err, &de) {
		return err
	}

	return &Error{Kind: KindInternal, Message: InternalMessage, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	default:
		return e.Message
	}
}

// Unwrap отдаёт внутреннюю причину.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду: errors.Is(err, ErrX) истинно для любой
// ошибки того же Kind, что и эталон ErrX.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// KindOf возвращает вид первой доменной ошибки в цепочке.
// Для nil и не-доменных ошибок — KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	return KindInternal
}

// SafeMessage возвращает сообщение, которое можно отдать клиенту.
func SafeMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) || de.Kind == KindInternal {
		return InternalMessage
	}

	return de.Message
}
