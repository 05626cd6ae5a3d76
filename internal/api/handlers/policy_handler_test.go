package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"risksignal/internal/engine"
	"risksignal/internal/models"
	"risksignal/internal/service"
)

// ============ PolicyHandler Tests ============

func seededPolicies() *MockPolicyService {
	svc := NewMockPolicyService()
	svc.AddPolicy(&models.Policy{
		ID:        "pol-1",
		UserID:    "user-1",
		AccountID: "0xabc",
		Type:      models.PolicyTypeNetWorth,
		Name:      "floor",
		Severity:  models.SeverityHigh,
		IsActive:  true,
	})
	svc.AddPolicy(&models.Policy{ID: "pol-2", UserID: "user-2", Type: models.PolicyTypeDrawdown, Name: "dd"})
	return svc
}

func TestPolicyHandler_CreatePolicy(t *testing.T) {
	body := `{"account_id":"0xabc","policy_type":"ASSET_CONCENTRATION","policy_name":"BTC cap",` +
		`"config":{"asset":"BTC","max_percentage":30},"severity":"HIGH"}`

	t.Run("creates policy", func(t *testing.T) {
		svc := NewMockPolicyService()
		handler := NewPolicyHandler(svc)

		w := httptest.NewRecorder()
		handler.CreatePolicy(w, withUser(postJSON("/api/v1/policies", body), "user-1"))

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}
		var resp models.Policy
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Type != models.PolicyTypeAssetConcentration || resp.UserID != "user-1" {
			t.Errorf("unexpected policy %+v", resp)
		}
		if !strings.Contains(string(resp.Config), `"max_percentage":30`) {
			t.Errorf("config not passed through: %s", resp.Config)
		}
	})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"config error", &engine.ConfigError{PolicyType: models.PolicyTypeAssetConcentration, Reason: "max_percentage must be in (0, 100]"}, http.StatusBadRequest, "invalid_config"},
		{"wrapped config error", fmt.Errorf("validate: %w", &engine.ConfigError{PolicyType: models.PolicyTypeNetWorth, Reason: "threshold required"}), http.StatusBadRequest, "invalid_config"},
		{"invalid fields", fmt.Errorf("%w: policy_name: must be 1-100 characters", service.ErrInvalidPolicy), http.StatusBadRequest, "invalid_policy"},
		{"storage failure", ErrMockDatabase, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockPolicyService()
			svc.SetError("create", tt.err)
			handler := NewPolicyHandler(svc)

			w := httptest.NewRecorder()
			handler.CreatePolicy(w, withUser(postJSON("/api/v1/policies", body), "user-1"))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
		})
	}
}

func TestPolicyHandler_GetAndList(t *testing.T) {
	handler := NewPolicyHandler(seededPolicies())

	t.Run("list own policies", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ListPolicies(w, withUser(httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil), "user-1"))

		var resp []models.Policy
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(resp) != 1 || resp[0].ID != "pol-1" {
			t.Errorf("expected only pol-1, got %+v", resp)
		}
	})

	t.Run("get own policy", func(t *testing.T) {
		req := withVars(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/policies/pol-1", nil), "user-1"), map[string]string{"id": "pol-1"})
		w := httptest.NewRecorder()
		handler.GetPolicy(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})

	t.Run("foreign policy is not found", func(t *testing.T) {
		req := withVars(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/policies/pol-2", nil), "user-1"), map[string]string{"id": "pol-2"})
		w := httptest.NewRecorder()
		handler.GetPolicy(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestPolicyHandler_UpdatePolicy(t *testing.T) {
	svc := seededPolicies()
	handler := NewPolicyHandler(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/policies/pol-1", strings.NewReader(`{"severity":"CRITICAL"}`))
	req = withVars(withUser(req, "user-1"), map[string]string{"id": "pol-1"})
	w := httptest.NewRecorder()
	handler.UpdatePolicy(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp models.Policy
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Severity != models.SeverityCritical || resp.Name != "floor" {
		t.Errorf("expected only severity to change, got %+v", resp)
	}

	t.Run("config error on update", func(t *testing.T) {
		svc.SetError("update", &engine.ConfigError{PolicyType: models.PolicyTypeNetWorth, Reason: "bad comparison"})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/policies/pol-1", strings.NewReader(`{"config":{"comparison":"SIDEWAYS"}}`))
		req = withVars(withUser(req, "user-1"), map[string]string{"id": "pol-1"})
		w := httptest.NewRecorder()
		handler.UpdatePolicy(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestPolicyHandler_ActivateDeactivate(t *testing.T) {
	svc := seededPolicies()
	handler := NewPolicyHandler(svc)

	req := withVars(withUser(postJSON("/api/v1/policies/pol-1/deactivate", ""), "user-1"), map[string]string{"id": "pol-1"})
	w := httptest.NewRecorder()
	handler.DeactivatePolicy(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if svc.policies["pol-1"].IsActive {
		t.Error("policy should be inactive")
	}

	req = withVars(withUser(postJSON("/api/v1/policies/pol-1/activate", ""), "user-1"), map[string]string{"id": "pol-1"})
	handler.ActivatePolicy(httptest.NewRecorder(), req)
	if !svc.policies["pol-1"].IsActive {
		t.Error("policy should be active")
	}

	req = withVars(withUser(postJSON("/api/v1/policies/missing/activate", ""), "user-1"), map[string]string{"id": "missing"})
	w = httptest.NewRecorder()
	handler.ActivatePolicy(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestPolicyHandler_DeletePolicy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		id         string
		wantStatus int
	}{
		{"deletes unused policy", nil, "pol-1", http.StatusNoContent},
		{"referenced policy", service.ErrPolicyInUse, "pol-1", http.StatusConflict},
		{"unknown policy", nil, "missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := seededPolicies()
			if tt.err != nil {
				svc.SetError("delete", tt.err)
			}
			handler := NewPolicyHandler(svc)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/policies/"+tt.id, nil)
			req = withVars(withUser(req, "user-1"), map[string]string{"id": tt.id})
			w := httptest.NewRecorder()
			handler.DeletePolicy(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}
