package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/pribylovaa/go-billing-auth/internal/apperr"
	"github.com/pribylovaa/go-billing-auth/internal/models"
)

const (
	minPasswordRunes = 8
	passwordSymbols  = "#@$!%*?&"
)

var validate = newValidator()

// newValidator создаёт валидатор с правилом password.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.RegisterValidation("password", passwordRule); err != nil {
		panic(err)
	}

	return v
}

// passwordRule: не короче 8 символов, строчная и заглавная буква, цифра и символ из #@$!%*?&.
func passwordRule(fl validator.FieldLevel) bool {
	pw := fl.Field().String()
	if utf8.RuneCountInString(pw) < minPasswordRunes {
		return false
	}

	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}

	return lower && upper && digit && symbol
}

// validationError переводит первое нарушенное правило в KindValidationFailed.
// field подставляется, когда проверялось отдельное значение, а не поле структуры.
func validationError(field string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate %s: %w", field, err)
	}

	fe := verrs[0]
	if fe.Field() != "" {
		field = strings.ToLower(fe.Field())
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = field + " is required"
	case "email":
		msg = "email is invalid"
	case "password":
		msg = "password must be at least 8 characters long and contain a lowercase letter, " +
			"an uppercase letter, a digit and one of " + passwordSymbols
	default:
		msg = fmt.Sprintf("%s failed on rule %q", field, fe.Tag())
	}

	return apperr.New(apperr.KindValidationFailed, msg)
}

// ValidatePassword проверяет политику пароля независимо от схемы хэширования.
func ValidatePassword(pw string) error {
	if err := validate.Var(pw, "required,password"); err != nil {
		return validationError("password", err)
	}

	return nil
}

// validatePassword добавляет к политике предел длины основной схемы хэширования.
func (s *Service) validatePassword(pw string) error {
	if err := ValidatePassword(pw); err != nil {
		return err
	}

	return s.checkPasswordBytes(pw)
}

func (s *Service) checkPasswordBytes(pw string) error {
	if s.maxPasswordBytes > 0 && len(pw) > s.maxPasswordBytes {
		return apperr.New(apperr.KindValidationFailed,
			fmt.Sprintf("password must be at most %d bytes long", s.maxPasswordBytes))
	}

	return nil
}

// validateRegister проверяет RegisterInput по тегам validate.
func (s *Service) validateRegister(in models.RegisterInput) error {
	if err := validate.Struct(in); err != nil {
		return validationError("", err)
	}

	return s.checkPasswordBytes(in.Password)
}

// normalizeEmail проверяет адрес и приводит его к нижнему регистру.
func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", validationError("email", err)
	}

	return strings.ToLower(email), nil
}
