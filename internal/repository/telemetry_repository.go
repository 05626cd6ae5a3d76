package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"risksignal/internal/models"
)

// TelemetryRepository - телеметрия агентов и журнал проверок сделок
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository создает новый экземпляр репозитория
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// InsertSample сохраняет одну точку телеметрии
func (r *TelemetryRepository) InsertSample(ctx context.Context, s *models.TelemetrySample) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.EventType == "" {
		s.EventType = models.TelemetryHeartbeat
	}

	query := `
		INSERT INTO agent_telemetry (id, agent_id, user_id, balance, equity, margin_used, margin_free,
			positions_count, unrealized_pnl, realized_pnl, event_type, attestation_hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.AgentID, s.UserID, s.Balance, s.Equity, s.MarginUsed, s.MarginFree,
		s.Positions, s.UnrealizedPnL, s.RealizedPnL, s.EventType, s.Attestation, s.Timestamp,
	)
	return err
}

// CountEventsSince считает события указанного типа начиная с since
func (r *TelemetryRepository) CountEventsSince(ctx context.Context, agentID, eventType string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM agent_telemetry
		WHERE agent_id = $1 AND event_type = $2 AND timestamp >= $3`

	var count int
	err := r.db.QueryRowContext(ctx, query, agentID, eventType, since).Scan(&count)
	return count, err
}

// InsertValidation пишет результат предторговой проверки
func (r *TelemetryRepository) InsertValidation(ctx context.Context, v *models.TradeValidation) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	var violations interface{}
	if len(v.Violations) > 0 {
		violations = []byte(v.Violations)
	}

	query := `
		INSERT INTO trade_validations (id, agent_id, user_id, symbol, action, volume,
			validation_result, violations, validation_token, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.AgentID, v.UserID, v.Symbol, v.Action, v.Volume, v.Result, violations, v.Token, v.Timestamp,
	)
	return err
}
