// Package redact маскирует персональные данные и секреты перед записью в лог.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const mask = "***"

// Email оставляет первые две руны локальной части и домен целиком.
// Локальная часть из двух рун и короче скрывается полностью.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return mask
	}

	runes := []rune(local)
	if len(runes) > 2 {
		return string(runes[:2]) + mask + "@" + domain
	}

	return mask + "@" + domain
}

// Token возвращает отпечаток секрета (первые 4 байта sha256 в hex).
// По отпечатку можно сопоставить записи лога, сам токен из него не восстановить.
func Token(s string) string {
	if s == "" {
		return "tok:none"
	}

	sum := sha256.Sum256([]byte(s))
	return "tok:" + hex.EncodeToString(sum[:4])
}

// Password — единственное допустимое представление пароля в логах.
func Password() string { return "[REDACTED_PASSWORD]" }
