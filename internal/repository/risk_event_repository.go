package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"risksignal/internal/models"
)

// Ошибки репозитория risk events
var (
	ErrRiskEventNotFound   = errors.New("risk event not found")
	ErrInvalidStatusChange = errors.New("invalid risk event status transition")
)

const riskEventColumns = `e.id, e.policy_id, e.account_id, e.agent_id, e.event_type, e.severity, e.status,
	e.violation_data, e.metadata, e.detected_at, e.acknowledged_at, e.resolved_at`

// RiskEventRepository - работа с таблицей risk_events
type RiskEventRepository struct {
	db *sql.DB
}

// NewRiskEventRepository создает новый экземпляр репозитория
func NewRiskEventRepository(db *sql.DB) *RiskEventRepository {
	return &RiskEventRepository{db: db}
}

// Create сохраняет risk event. Статус по умолчанию OPEN.
func (r *RiskEventRepository) Create(ctx context.Context, e *models.RiskEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.EventStatusOpen
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO risk_events (id, policy_id, account_id, agent_id, event_type, severity, status,
			violation_data, metadata, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.PolicyID, e.AccountID, e.AgentID, string(e.EventType), string(e.Severity),
		string(e.Status), []byte(e.ViolationData), meta, e.DetectedAt,
	)
	return err
}

// GetByID возвращает risk event по ID
func (r *RiskEventRepository) GetByID(ctx context.Context, id string) (*models.RiskEvent, error) {
	query := `SELECT ` + riskEventColumns + ` FROM risk_events e WHERE e.id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetForUser возвращает risk event, если его политика принадлежит пользователю
func (r *RiskEventRepository) GetForUser(ctx context.Context, id, userID string) (*models.RiskEvent, error) {
	query := `SELECT ` + riskEventColumns + `
		FROM risk_events e JOIN policies p ON p.id = e.policy_id
		WHERE e.id = $1 AND p.user_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, userID))
}

// List возвращает события по фильтру, от новых к старым
func (r *RiskEventRepository) List(ctx context.Context, f models.RiskEventFilter) ([]models.RiskEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	from := `risk_events e`
	if f.UserID != "" {
		from += ` JOIN policies p ON p.id = e.policy_id`
		add("p.user_id = $%d", f.UserID)
	}
	if f.AccountID != "" {
		add("e.account_id = $%d", f.AccountID)
	}
	if f.Status != "" {
		add("e.status = $%d", string(f.Status))
	}
	if f.Severity != "" {
		add("e.severity = $%d", string(f.Severity))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + riskEventColumns + ` FROM ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY e.detected_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.RiskEvent
	for rows.Next() {
		e, err := scanRiskEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// UpdateStatus переводит событие из from в to.
// Обновление условное: если статус уже изменился, возвращается ErrInvalidStatusChange.
func (r *RiskEventRepository) UpdateStatus(ctx context.Context, id string, from, to models.EventStatus, at time.Time) error {
	var column string
	switch to {
	case models.EventStatusAcknowledged:
		column = "acknowledged_at"
	case models.EventStatusResolved, models.EventStatusFalsePositive:
		column = "resolved_at"
	default:
		return ErrInvalidStatusChange
	}

	query := `UPDATE risk_events SET status = $1, ` + column + ` = $2 WHERE id = $3 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return err
	}
	return expectAffected(result, ErrInvalidStatusChange)
}

func (r *RiskEventRepository) scanOne(row *sql.Row) (*models.RiskEvent, error) {
	e, err := scanRiskEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRiskEventNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanRiskEvent(s rowScanner) (*models.RiskEvent, error) {
	e := &models.RiskEvent{}
	var (
		agentID                sql.NullString
		eventType, sev, status string
		violation, meta        []byte
		acknowledged, resolved sql.NullTime
	)
	err := s.Scan(
		&e.ID, &e.PolicyID, &e.AccountID, &agentID, &eventType, &sev, &status,
		&violation, &meta, &e.DetectedAt, &acknowledged, &resolved,
	)
	if err != nil {
		return nil, err
	}

	e.EventType = models.PolicyType(eventType)
	e.Severity = models.Severity(sev)
	e.Status = models.EventStatus(status)
	e.ViolationData = append([]byte(nil), violation...)
	if agentID.Valid {
		e.AgentID = &agentID.String
	}
	if acknowledged.Valid {
		e.AcknowledgedAt = &acknowledged.Time
	}
	if resolved.Valid {
		e.ResolvedAt = &resolved.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return e, nil
}
