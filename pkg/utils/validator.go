package utils

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// validator.go - проверка пользовательского ввода (настройки уведомлений,
// регистрация агентов, запросы предторговой проверки)

var (
	symbolRe = regexp.MustCompile(`^[A-Za-z0-9._/-]{2,30}$`)
	e164Re   = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	walletRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// FieldError - ошибка одного поля
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors накапливает ошибки полей
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Check добавляет ошибку поля, если err != nil
func (v *ValidationErrors) Check(field string, err error) {
	if err != nil {
		*v = append(*v, FieldError{Field: field, Message: err.Error()})
	}
}

// Err возвращает nil, если ошибок нет
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ValidateEmail проверяет адрес электронной почты
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}

// ValidatePhoneE164 проверяет номер в формате E.164 (+15551234567)
func ValidatePhoneE164(phone string) error {
	if !e164Re.MatchString(phone) {
		return fmt.Errorf("phone must be in E.164 format, got %q", phone)
	}
	return nil
}

// ValidateWebhookURL проверяет https URL входящего webhook
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", raw)
	}
	if u.Scheme != "https" {
		return errors.New("webhook url must use https")
	}
	return nil
}

// ValidateWalletAddress проверяет EVM адрес (0x + 40 hex)
func ValidateWalletAddress(addr string) error {
	if !walletRe.MatchString(addr) {
		return fmt.Errorf("invalid wallet address %q", addr)
	}
	return nil
}

// ValidateSymbol проверяет торговый символ (EURUSD, BTC-USDT, XAU/USD)
func ValidateSymbol(symbol string) error {
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// ValidateVolume проверяет объем сделки (> 0)
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return fmt.Errorf("volume must be positive, got %v", volume)
	}
	return nil
}

// ValidatePercentage проверяет значение в диапазоне 0..100
func ValidatePercentage(p float64) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("percentage must be between 0 and 100, got %v", p)
	}
	return nil
}

// ValidateTradeAction принимает buy/sell в любом регистре
func ValidateTradeAction(action string) error {
	switch strings.ToLower(action) {
	case "buy", "sell":
		return nil
	}
	return fmt.Errorf("action must be buy or sell, got %q", action)
}
