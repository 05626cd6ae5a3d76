//go:build integration

// Интеграционные тесты репозиториев на реальном PostgreSQL.
//
// Запуск: go test -tags=integration ./internal/repository/...
// Параметры подключения берутся из TEST_DB_* (по умолчанию localhost:5432, risksignal_test).
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"risksignal/internal/models"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupTestDB подключается к тестовой БД и применяет схему; без БД тест пропускается
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "postgres"),
		getEnv("TEST_DB_PASSWORD", "postgres"),
		getEnv("TEST_DB_NAME", "risksignal_test"),
		getEnv("TEST_DB_SSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Skipf("Skipping integration test: cannot open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIntegration_SchemaIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	// повторное применение не должно падать
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	tables := []string{
		"policies", "account_snapshots", "risk_events", "alert_history",
		"notification_preferences", "trading_agents", "agent_halt_log",
		"agent_telemetry", "trade_validations",
	}
	for _, table := range tables {
		t.Run("table_"+table+"_exists", func(t *testing.T) {
			var exists bool
			err := db.QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_name = $1
				)`, table).Scan(&exists)
			if err != nil {
				t.Fatalf("failed to check table existence: %v", err)
			}
			if !exists {
				t.Errorf("table %s does not exist", table)
			}
		})
	}
}

func TestIntegration_PolicyAndRiskEventLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	policies := NewPolicyRepository(db)
	events := NewRiskEventRepository(db)
	userID := "user-" + uuid.NewString()

	policy := &models.Policy{
		UserID:    userID,
		AccountID: "0xintegration",
		Type:      models.PolicyTypeNetWorth,
		Name:      "floor",
		Config:    json.RawMessage(`{"threshold":1000,"comparison":"LESS_THAN"}`),
		Severity:  models.SeverityHigh,
		IsActive:  true,
	}
	if err := policies.Create(ctx, policy); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	// чужой пользователь не видит политику
	if _, err := policies.GetForUser(ctx, policy.ID, "someone-else"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}

	event := &models.RiskEvent{
		PolicyID:      policy.ID,
		AccountID:     policy.AccountID,
		EventType:     policy.Type,
		Severity:      policy.Severity,
		ViolationData: json.RawMessage(`{"current_value":900}`),
	}
	if err := events.Create(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}

	list, err := events.List(ctx, models.RiskEventFilter{UserID: userID, Status: models.EventStatusOpen})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(list) != 1 || list[0].ID != event.ID {
		t.Fatalf("expected the created event, got %+v", list)
	}

	if err := events.UpdateStatus(ctx, event.ID, models.EventStatusOpen, models.EventStatusAcknowledged, time.Now()); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	// переход из устаревшего статуса отклоняется
	err = events.UpdateStatus(ctx, event.ID, models.EventStatusOpen, models.EventStatusResolved, time.Now())
	if !errors.Is(err, ErrInvalidStatusChange) {
		t.Errorf("expected ErrInvalidStatusChange, got %v", err)
	}

	// политика с событиями не удаляется
	if err := policies.Delete(ctx, policy.ID, userID); !errors.Is(err, ErrPolicyReferenced) {
		t.Errorf("expected ErrPolicyReferenced, got %v", err)
	}
}

func TestIntegration_ConcurrentHalt(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	agents := NewAgentRepository(db)

	agent := &models.Agent{
		UserID:       "user-" + uuid.NewString(),
		Name:         "integration-bot",
		APIKeyPrefix: "rsk_" + uuid.NewString()[:8],
		APIKeyHash:   "hash",
	}
	if err := agents.Create(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := agents.ApplyHalt(ctx, &models.HaltLogEntry{
				AgentID:   agent.ID,
				UserID:    agent.UserID,
				Actor:     "system",
				Action:    models.HaltActionHalt,
				Reason:    "drawdown",
				Automatic: true,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("apply halt: %v", err)
				return
			}
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Errorf("expected exactly one state change, got %d", changed)
	}
	log, err := agents.ListHaltLog(ctx, agent.ID, 10)
	if err != nil {
		t.Fatalf("list halt log: %v", err)
	}
	if len(log) != 1 {
		t.Errorf("expected one halt log entry, got %d", len(log))
	}
}
