package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// isUniqueViolation проверяет нарушение уникальности
func isUniqueViolation(err error) bool {
	return hasPQCode(err, pgUniqueViolation, "duplicate key")
}

// isForeignKeyViolation проверяет нарушение внешнего ключа
func isForeignKeyViolation(err error) bool {
	return hasPQCode(err, pgForeignKeyViolation, "foreign key")
}

func hasPQCode(err error, code pq.ErrorCode, fallback string) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == code
	}
	// драйверы-обертки и моки возвращают только текст
	msg := err.Error()
	return strings.Contains(msg, string(code)) || strings.Contains(msg, fallback)
}
