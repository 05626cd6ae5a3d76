package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"risksignal/internal/api/middleware"
	"risksignal/pkg/utils"

	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodySize - предел тела запроса (телеметрия и политики невелики)
const maxBodySize = 1 << 20

// errEmptyBody - тело запроса отсутствует
var errEmptyBody = errors.New("request body is empty")

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			utils.L().Warn("failed to encode response", zap.Error(err))
		}
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// respondInternal - 500 без деталей для клиента, причина уходит в лог
func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	logRequestError(r, err)
	respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
}

func logRequestError(r *http.Request, err error) {
	utils.L().Error("request failed",
		utils.RequestID(middleware.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}

// decodeJSON читает тело запроса в dst
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

// requireUser возвращает id оператора из context или отвечает 401
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
		return "", false
	}
	return userID, true
}

// queryLimit читает ?limit=, пустое значение дает 0 (значение по умолчанию сервиса)
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return limit, nil
}

// userFromContext - id оператора, если запрос прошел Auth/OptionalAuth
func userFromContext(r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	return userID, userID != ""
}
