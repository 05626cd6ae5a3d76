package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Формат ключа агента: "rsk_" + 40 hex символов (20 случайных байт)
const (
	APIKeyScheme    = "rsk_"
	apiKeyRandBytes = 20

	// APIKeyPrefixLen - длина сохраняемого в открытом виде префикса (схема + 8 hex)
	APIKeyPrefixLen = len(APIKeyScheme) + 8

	// DefaultCost - стоимость bcrypt для ключей агентов
	DefaultCost = 10
)

// Ошибки ключей
var (
	ErrMalformedAPIKey = errors.New("malformed api key")
	ErrAPIKeyMismatch  = errors.New("api key does not match hash")
	ErrInvalidHash     = errors.New("invalid api key hash format")
)

// GenerateAPIKey создает новый ключ агента. Открытый ключ показывается пользователю один раз.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyScheme + hex.EncodeToString(buf), nil
}

// ValidateAPIKeyFormat проверяет схему и длину без обращения к хранилищу
func ValidateAPIKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyScheme) || len(key) != len(APIKeyScheme)+2*apiKeyRandBytes {
		return ErrMalformedAPIKey
	}
	if _, err := hex.DecodeString(key[len(APIKeyScheme):]); err != nil {
		return ErrMalformedAPIKey
	}
	return nil
}

// APIKeyPrefix возвращает префикс для поиска кандидатов в БД
func APIKeyPrefix(key string) (string, error) {
	if err := ValidateAPIKeyFormat(key); err != nil {
		return "", err
	}
	return key[:APIKeyPrefixLen], nil
}

// HashAPIKeyWithCost хеширует ключ с указанной стоимостью (тесты используют bcrypt.MinCost)
func HashAPIKeyWithCost(key string, cost int) (string, error) {
	if err := ValidateAPIKeyFormat(key); err != nil {
		return "", err
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyAPIKey сравнивает ключ с bcrypt хешем за постоянное время
func VerifyAPIKey(key, hash string) error {
	if key == "" {
		return ErrMalformedAPIKey
	}
	if hash == "" {
		return ErrInvalidHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrAPIKeyMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// Fingerprint - sha256 ключа, используется как ключ кэша проверенных ключей
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
