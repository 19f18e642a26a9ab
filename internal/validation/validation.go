// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrEmptyEmail         = errors.New("email is empty")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrEmptyToken         = errors.New("token is empty")
	ErrInvalidToken       = errors.New("token has invalid format")
	ErrInvalidPhone       = errors.New("invalid phone number")
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	tokenRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

// DefaultCountryCode подставляется к десятизначным номерам без кода страны.
const DefaultCountryCode = "91"

// ValidateEmail проверяет адрес электронной почты.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmailFormat
	}
	return nil
}

// ValidateToken проверяет форму токена скачивания до обращения к БД.
func ValidateToken(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if !tokenRegex.MatchString(token) {
		return ErrInvalidToken
	}
	return nil
}

// NormalizePhone приводит номер к формату E.164 без "+": только цифры, с кодом страны.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")

	if len(digits) == 10 {
		digits = DefaultCountryCode + digits
	}
	if len(digits) < 11 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
