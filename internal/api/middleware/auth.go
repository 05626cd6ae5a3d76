package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const (
	userIDKey contextKey = iota
	requestIDKey
)

// ErrInvalidToken - токен отсутствует, поврежден, просрочен или подписан не нами
var ErrInvalidToken = errors.New("invalid or expired token")

// UserIDFromContext возвращает id оператора, установленный Auth/OptionalAuth
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithUserID добавляет id оператора в context (используется также в тестах handlers)
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Authenticator проверяет JWT операторов dashboard
//
// Токены выпускает внешний сервис сессий: HS256, claim sub - id пользователя,
// exp обязателен. Для WebSocket, где браузер не может передать заголовок,
// токен принимается из query параметра access_token.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator создает проверку с ключом подписи secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// ParseToken проверяет подпись и срок токена и возвращает id пользователя
func (a *Authenticator) ParseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Auth - middleware для защищенных маршрутов
//
// Без валидного токена возвращает 401, иначе кладет user id в context запроса.
func (a *Authenticator) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			raw = r.URL.Query().Get("access_token")
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing authentication token")
			return
		}
		userID, err := a.ParseToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// OptionalAuth - опциональная аутентификация
//
// Валидный токен добавляет user id в context, отсутствующий или невалидный
// токен не прерывает запрос. Используется для GET состояния остановки, где
// агент может читать свое состояние по API ключу.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := bearerToken(r); raw != "" {
			if userID, err := a.ParseToken(raw); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ServiceToken защищает служебные маршруты (запуск прохода внешним планировщиком)
//
// Пустой token отключает маршрут: любой запрос получает 503.
func ServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusServiceUnavailable, "not_configured", "Service token is not configured")
				return
			}
			got := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization: Bearer <token>
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
