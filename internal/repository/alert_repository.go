package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"risksignal/internal/models"
)

// AlertRepository - журнал доставки алертов (alert_history)
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository создает новый экземпляр репозитория
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create записывает попытку доставки
func (r *AlertRepository) Create(ctx context.Context, a *models.AlertRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = map[string]interface{}{}
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_history (id, risk_event_id, channel, recipient, status, message_content,
			metadata, error_message, retry_count, sent_at, delivered_at, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.RiskEventID, string(a.Channel), a.Recipient, string(a.Status), a.MessageContent,
		meta, a.ErrorMessage, a.RetryCount, a.SentAt, a.DeliveredAt, a.FailedAt,
	)
	return err
}

// CountRecent считает записи по событию с указанными статусами начиная с since
func (r *AlertRepository) CountRecent(ctx context.Context, riskEventID string, statuses []models.AlertStatus, since time.Time) (int, error) {
	codes := make([]string, len(statuses))
	for i, s := range statuses {
		codes[i] = string(s)
	}

	query := `
		SELECT COUNT(*)
		FROM alert_history
		WHERE risk_event_id = $1 AND status = ANY($2) AND sent_at >= $3`

	var count int
	err := r.db.QueryRowContext(ctx, query, riskEventID, pq.Array(codes), since).Scan(&count)
	return count, err
}

// ListByRiskEvent возвращает историю доставки события, от новых к старым
func (r *AlertRepository) ListByRiskEvent(ctx context.Context, riskEventID string) ([]models.AlertRecord, error) {
	query := `
		SELECT id, risk_event_id, channel, recipient, status, message_content, metadata,
			error_message, retry_count, sent_at, delivered_at, failed_at
		FROM alert_history
		WHERE risk_event_id = $1
		ORDER BY sent_at DESC`

	rows, err := r.db.QueryContext(ctx, query, riskEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AlertRecord
	for rows.Next() {
		var (
			a                   models.AlertRecord
			channel, status     string
			meta                []byte
			errMsg              sql.NullString
			delivered, failedAt sql.NullTime
		)
		if err := rows.Scan(
			&a.ID, &a.RiskEventID, &channel, &a.Recipient, &status, &a.MessageContent, &meta,
			&errMsg, &a.RetryCount, &a.SentAt, &delivered, &failedAt,
		); err != nil {
			return nil, err
		}
		a.Channel = models.AlertChannel(channel)
		a.Status = models.AlertStatus(status)
		if errMsg.Valid {
			a.ErrorMessage = &errMsg.String
		}
		if delivered.Valid {
			a.DeliveredAt = &delivered.Time
		}
		if failedAt.Valid {
			a.FailedAt = &failedAt.Time
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, err
			}
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
