package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"risksignal/internal/models"
)

// Ошибки репозитория политик
var (
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrPolicyReferenced = errors.New("policy has risk events and cannot be deleted")
)

const policyColumns = `id, user_id, account_id, policy_type, policy_name, description, config, severity, is_active, created_at, updated_at`

// PolicyRepository - работа с таблицей policies
type PolicyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPolicyRepository создает новый экземпляр репозитория
func NewPolicyRepository(db *sql.DB) *PolicyRepository {
	return &PolicyRepository{db: db, now: time.Now}
}

// Create сохраняет новую политику. ID генерируется, если не задан.
func (r *PolicyRepository) Create(ctx context.Context, p *models.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.AccountID, string(p.Type), p.Name, p.Description,
		[]byte(p.Config), string(p.Severity), p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetByID возвращает политику по ID
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetForUser возвращает политику, только если она принадлежит пользователю
func (r *PolicyRepository) GetForUser(ctx context.Context, id, userID string) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1 AND user_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id, userID))
}

// ListByUser возвращает все политики пользователя
func (r *PolicyRepository) ListByUser(ctx context.Context, userID string) ([]models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListActive возвращает все активные политики (для sweep)
func (r *PolicyRepository) ListActive(ctx context.Context) ([]models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE is_active = TRUE ORDER BY account_id, created_at`
	return r.list(ctx, query)
}

// ListActiveForAccount возвращает активные политики аккаунта.
// Для агентов account_id политики равен ID агента.
func (r *PolicyRepository) ListActiveForAccount(ctx context.Context, accountID string) ([]models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE is_active = TRUE AND account_id = $1 ORDER BY created_at`
	return r.list(ctx, query, accountID)
}

// Update обновляет изменяемые поля политики
func (r *PolicyRepository) Update(ctx context.Context, p *models.Policy) error {
	p.UpdatedAt = r.now().UTC()
	query := `
		UPDATE policies
		SET policy_name = $1, description = $2, config = $3, severity = $4, is_active = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8`

	result, err := r.db.ExecContext(ctx, query,
		p.Name, p.Description, []byte(p.Config), string(p.Severity), p.IsActive, p.UpdatedAt, p.ID, p.UserID,
	)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPolicyNotFound)
}

// SetActive включает или выключает политику
func (r *PolicyRepository) SetActive(ctx context.Context, id, userID string, active bool) error {
	query := `UPDATE policies SET is_active = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	result, err := r.db.ExecContext(ctx, query, active, r.now().UTC(), id, userID)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrPolicyNotFound)
}

// Delete удаляет политику. Политику с risk events удалить нельзя.
func (r *PolicyRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrPolicyReferenced
		}
		return err
	}
	return expectAffected(result, ErrPolicyNotFound)
}

func (r *PolicyRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Policy, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (r *PolicyRepository) scanOne(row *sql.Row) (*models.Policy, error) {
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(s rowScanner) (*models.Policy, error) {
	p := &models.Policy{}
	var policyType, severity string
	var config []byte
	err := s.Scan(
		&p.ID, &p.UserID, &p.AccountID, &policyType, &p.Name, &p.Description,
		&config, &severity, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = models.PolicyType(policyType)
	p.Severity = models.Severity(severity)
	p.Config = append([]byte(nil), config...)
	return p, nil
}

func expectAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
