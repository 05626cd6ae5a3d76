package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"risksignal/internal/api/handlers"
	"risksignal/internal/api/middleware"
	"risksignal/internal/websocket"
	"risksignal/pkg/ratelimit"
)

// Dependencies содержит все зависимости для API handlers
//
// Nil сервис отключает группу маршрутов (удобно в тестах).
type Dependencies struct {
	Telemetry   handlers.TelemetryIngester
	Trades      handlers.TradeValidator
	Agents      handlers.AgentManager
	Halt        handlers.HaltManager
	Policies    handlers.PolicyManager
	RiskEvents  handlers.RiskEventManager
	Preferences handlers.PreferencesManager
	Sweep       handlers.SweepRunner

	Hub         *websocket.Hub
	RateLimiter *ratelimit.KeyedLimiter

	JWTSecret      string
	SweepToken     string
	AllowedOrigins []string

	// HealthCheck - проверка зависимостей (ping БД) для /health
	HealthCheck func(ctx context.Context) error
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /telemetry/{apiKey}        POST  - телеметрия агента (ключ в пути)
//	├── /validate-trade            POST  - pre-trade проверка (ключ в теле)
//	├── /validate-trade/verify     POST  - проверка токена сделки
//	├── /agents/
//	│   ├── GET, POST /                  - агенты оператора
//	│   ├── GET /{id}/halt               - состояние (сессия или ключ агента)
//	│   ├── POST /{id}/halt              - ручная остановка / возобновление
//	│   └── GET /{id}/halt-log           - журнал остановок
//	├── /policies/
//	│   ├── GET, POST /
//	│   ├── GET, PATCH, DELETE /{id}
//	│   └── POST /{id}/activate, /{id}/deactivate
//	├── /risk-events/
//	│   ├── GET /, GET /{id}, GET /{id}/alerts
//	│   └── PATCH /{id}/status
//	├── /preferences               GET, PUT
//	└── /sweep                     POST  - bearer SWEEP_TOKEN
//
// /ws/stream - WebSocket (JWT в ?access_token=)
// /metrics   - prometheus
// /health    - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. RequestID (для всех маршрутов)
// 3. Logging (для всех маршрутов)
// 4. CORS (для всех маршрутов)
// 5. RateLimit (для всех маршрутов, по IP)
// 6. Auth / OptionalAuth / ServiceToken (по группам)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))
	if deps.RateLimiter != nil {
		router.Use(middleware.RateLimit(deps.RateLimiter))
	}

	auth := middleware.NewAuthenticator(deps.JWTSecret)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Маршруты агентов: аутентификация по API ключу внутри сервисов
	if deps.Telemetry != nil {
		h := handlers.NewTelemetryHandler(deps.Telemetry)
		api.HandleFunc("/telemetry/{apiKey}", h.Ingest).Methods("POST")
	}
	if deps.Trades != nil {
		h := handlers.NewTradeHandler(deps.Trades)
		api.HandleFunc("/validate-trade", h.ValidateTrade).Methods("POST")
		api.HandleFunc("/validate-trade/verify", h.VerifyToken).Methods("POST")
	}

	// Служебный маршрут внешнего планировщика
	if deps.Sweep != nil {
		h := handlers.NewSweepHandler(deps.Sweep)
		api.Handle("/sweep", middleware.ServiceToken(deps.SweepToken)(http.HandlerFunc(h.RunSweep))).Methods("POST")
	}

	// Состояние остановки читает и оператор, и сам агент
	if deps.Agents != nil && deps.Halt != nil {
		h := handlers.NewAgentHandler(deps.Agents, deps.Halt)
		api.Handle("/agents/{id}/halt", auth.OptionalAuth(http.HandlerFunc(h.GetHaltStatus))).Methods("GET")
	}

	// Маршруты оператора dashboard
	protected := api.NewRoute().Subrouter()
	protected.Use(auth.Auth)

	if deps.Agents != nil && deps.Halt != nil {
		h := handlers.NewAgentHandler(deps.Agents, deps.Halt)
		protected.HandleFunc("/agents", h.ListAgents).Methods("GET")
		protected.HandleFunc("/agents", h.CreateAgent).Methods("POST")
		protected.HandleFunc("/agents/{id}/halt", h.SetHalt).Methods("POST")
		protected.HandleFunc("/agents/{id}/halt-log", h.GetHaltLog).Methods("GET")
	}

	if deps.Policies != nil {
		h := handlers.NewPolicyHandler(deps.Policies)
		protected.HandleFunc("/policies", h.ListPolicies).Methods("GET")
		protected.HandleFunc("/policies", h.CreatePolicy).Methods("POST")
		protected.HandleFunc("/policies/{id}", h.GetPolicy).Methods("GET")
		protected.HandleFunc("/policies/{id}", h.UpdatePolicy).Methods("PATCH")
		protected.HandleFunc("/policies/{id}", h.DeletePolicy).Methods("DELETE")
		protected.HandleFunc("/policies/{id}/activate", h.ActivatePolicy).Methods("POST")
		protected.HandleFunc("/policies/{id}/deactivate", h.DeactivatePolicy).Methods("POST")
	}

	if deps.RiskEvents != nil {
		h := handlers.NewRiskEventHandler(deps.RiskEvents)
		protected.HandleFunc("/risk-events", h.ListRiskEvents).Methods("GET")
		protected.HandleFunc("/risk-events/{id}", h.GetRiskEvent).Methods("GET")
		protected.HandleFunc("/risk-events/{id}/alerts", h.ListAlerts).Methods("GET")
		protected.HandleFunc("/risk-events/{id}/status", h.UpdateStatus).Methods("PATCH")
	}

	if deps.Preferences != nil {
		h := handlers.NewPreferencesHandler(deps.Preferences)
		protected.HandleFunc("/preferences", h.GetPreferences).Methods("GET")
		protected.HandleFunc("/preferences", h.UpdatePreferences).Methods("PUT")
	}

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		websocket.SetAllowedOrigins(deps.AllowedOrigins)
		router.Handle("/ws/stream", auth.Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, middleware.UserIDFromContext(r.Context()), w, r)
		}))).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Preflight: mux применяет middleware только к совпавшему маршруту,
	// без этого CORS не увидит OPTIONS запрос
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
