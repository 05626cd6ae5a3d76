package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"risksignal/internal/models"
)

// SnapshotRepository - история снимков аккаунтов (account_snapshots)
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository создает новый экземпляр репозитория
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create сохраняет снимок целиком в snapshot_data
func (r *SnapshotRepository) Create(ctx context.Context, s *models.AccountSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now().UTC()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO account_snapshots (id, account_id, net_worth_usd, snapshot_data, captured_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = r.db.ExecContext(ctx, query, s.ID, s.AccountID, s.NetWorthUSD, data, s.CapturedAt)
	return err
}

// ListSince возвращает снимки аккаунта начиная с since, от новых к старым
func (r *SnapshotRepository) ListSince(ctx context.Context, accountID string, since time.Time) ([]models.AccountSnapshot, error) {
	query := `
		SELECT id, snapshot_data, captured_at
		FROM account_snapshots
		WHERE account_id = $1 AND captured_at >= $2
		ORDER BY captured_at DESC`

	rows, err := r.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.AccountSnapshot
	for rows.Next() {
		var (
			s    models.AccountSnapshot
			id   string
			data []byte
			at   time.Time
		)
		if err := rows.Scan(&id, &data, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		s.ID = id
		s.AccountID = accountID
		s.CapturedAt = at
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
