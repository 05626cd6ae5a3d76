package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"risksignal/internal/models"
)

// Ошибки репозитория агентов
var (
	ErrAgentNotFound = errors.New("agent not found")
)

const agentColumns = `id, user_id, name, api_key_prefix, api_key_hash, status, is_halted,
	halt_reason, halt_timestamp, last_heartbeat, metadata, created_at`

// AgentRepository - работа с таблицами trading_agents и agent_halt_log
type AgentRepository struct {
	db *sql.DB
}

// NewAgentRepository создает новый экземпляр репозитория
func NewAgentRepository(db *sql.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Create регистрирует агента. Ключ хранится только как префикс и bcrypt-хеш.
func (r *AgentRepository) Create(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.AgentStatusInactive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trading_agents (id, user_id, name, api_key_prefix, api_key_hash, status, is_halted, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.UserID, a.Name, a.APIKeyPrefix, a.APIKeyHash, a.Status, a.IsHalted, meta, a.CreatedAt,
	)
	return err
}

// GetByID возвращает агента по ID
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM trading_agents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetForUser возвращает агента, только если он принадлежит пользователю
func (r *AgentRepository) GetForUser(ctx context.Context, id, userID string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM trading_agents WHERE id = $1 AND user_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, userID))
}

// ListByAPIKeyPrefix возвращает кандидатов для проверки ключа
func (r *AgentRepository) ListByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM trading_agents WHERE api_key_prefix = $1`
	return r.list(ctx, query, prefix)
}

// ListByUser возвращает агентов пользователя
func (r *AgentRepository) ListByUser(ctx context.Context, userID string) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM trading_agents WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// RecordHeartbeat обновляет время последней телеметрии и метаданные.
// Остановленный агент остается в статусе halted.
func (r *AgentRepository) RecordHeartbeat(ctx context.Context, id string, at time.Time, meta models.AgentMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	query := `
		UPDATE trading_agents
		SET last_heartbeat = $1,
			metadata = $2,
			status = CASE WHEN is_halted THEN 'halted' ELSE 'active' END
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, at, data, id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrAgentNotFound)
}

// ApplyHalt атомарно переключает флаг остановки и пишет запись в журнал.
// Если агент уже в целевом состоянии, ничего не меняется и возвращается false.
func (r *AgentRepository) ApplyHalt(ctx context.Context, entry *models.HaltLogEntry) (bool, error) {
	halted := entry.Action == models.HaltActionHalt
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var (
		query string
		args  []interface{}
	)
	if halted {
		query = `
			UPDATE trading_agents
			SET is_halted = TRUE, status = 'halted', halt_reason = $1, halt_timestamp = $2
			WHERE id = $3 AND is_halted = FALSE`
		args = []interface{}{entry.Reason, entry.Timestamp, entry.AgentID}
	} else {
		query = `
			UPDATE trading_agents
			SET is_halted = FALSE, status = 'active', halt_reason = NULL, halt_timestamp = NULL
			WHERE id = $1 AND is_halted = TRUE`
		args = []interface{}{entry.AgentID}
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	logQuery := `
		INSERT INTO agent_halt_log (id, agent_id, user_id, actor, action, reason, automatic, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, logQuery,
		entry.ID, entry.AgentID, entry.UserID, entry.Actor, string(entry.Action), entry.Reason, entry.Automatic, entry.Timestamp,
	); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListHaltLog возвращает журнал остановок агента, от новых к старым
func (r *AgentRepository) ListHaltLog(ctx context.Context, agentID string, limit int) ([]models.HaltLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, agent_id, user_id, actor, action, reason, automatic, timestamp
		FROM agent_halt_log
		WHERE agent_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HaltLogEntry
	for rows.Next() {
		var (
			e      models.HaltLogEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.UserID, &e.Actor, &action, &e.Reason, &e.Automatic, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = models.HaltAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AgentRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Agent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (r *AgentRepository) scanOne(row *sql.Row) (*models.Agent, error) {
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAgent(s rowScanner) (*models.Agent, error) {
	a := &models.Agent{}
	var (
		reason              sql.NullString
		haltedAt, heartbeat sql.NullTime
		meta                []byte
	)
	err := s.Scan(
		&a.ID, &a.UserID, &a.Name, &a.APIKeyPrefix, &a.APIKeyHash, &a.Status, &a.IsHalted,
		&reason, &haltedAt, &heartbeat, &meta, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		a.HaltReason = &reason.String
	}
	if haltedAt.Valid {
		a.HaltTimestamp = &haltedAt.Time
	}
	if heartbeat.Valid {
		a.LastHeartbeat = &heartbeat.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return a, nil
}
