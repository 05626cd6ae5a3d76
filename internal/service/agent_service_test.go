package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"risksignal/internal/models"
	"risksignal/pkg/crypto"
)

func TestAgentService_CreateReturnsKeyOnce(t *testing.T) {
	repo := NewMockAgentRepository()
	s := NewAgentService(repo)
	s.hashCost = bcrypt.MinCost
	s.now = fixedNow

	agent, key, err := s.Create(context.Background(), "user-1", "  scalper  ")
	require.NoError(t, err)
	assert.Equal(t, "scalper", agent.Name)
	assert.Equal(t, models.AgentStatusInactive, agent.Status)
	assert.True(t, strings.HasPrefix(key, crypto.APIKeyScheme))
	assert.Len(t, key, 44)
	assert.Equal(t, key[:crypto.APIKeyPrefixLen], agent.APIKeyPrefix)
	assert.NotContains(t, agent.APIKeyHash, key)
	assert.NoError(t, crypto.VerifyAPIKey(key, agent.APIKeyHash))

	authed, err := s.Authenticate(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, authed.ID)
}

func TestAgentService_CreateValidatesName(t *testing.T) {
	s := NewAgentService(NewMockAgentRepository())
	for _, name := range []string{"", "   ", strings.Repeat("a", 101)} {
		_, _, err := s.Create(context.Background(), "user-1", name)
		assert.ErrorIs(t, err, ErrInvalidAgentName, "name %q", name)
	}
}

func TestAgentService_Authenticate(t *testing.T) {
	repo := NewMockAgentRepository()
	_, key := addAgentWithKey(t, repo, "user-1")
	s := NewAgentService(repo)
	ctx := context.Background()

	other, _ := crypto.GenerateAPIKey()
	// тот же префикс, другой хвост
	samePrefix := key[:crypto.APIKeyPrefixLen] + strings.Repeat("0", len(key)-crypto.APIKeyPrefixLen)

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid", key, nil},
		{"unknown", other, ErrInvalidAPIKey},
		{"same prefix different key", samePrefix, ErrInvalidAPIKey},
		{"malformed", "not-a-key", ErrInvalidAPIKey},
		{"empty", "", ErrInvalidAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := s.Authenticate(ctx, tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, agent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", agent.UserID)
		})
	}
}

func TestAgentService_AuthenticateCachesVerifiedKey(t *testing.T) {
	repo := NewMockAgentRepository()
	agent, key := addAgentWithKey(t, repo, "user-1")
	s := NewAgentService(repo)
	ctx := context.Background()

	_, err := s.Authenticate(ctx, key)
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.prefixCalls)

	// удаленный агент больше не проходит, запись кэша сбрасывается
	repo.mu.Lock()
	delete(repo.agents, agent.ID)
	repo.mu.Unlock()

	_, err = s.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
	s.mu.RLock()
	assert.Empty(t, s.verified)
	s.mu.RUnlock()
}

func TestAgentService_GetOwnership(t *testing.T) {
	repo := NewMockAgentRepository()
	agent, _ := addAgentWithKey(t, repo, "user-1")
	s := NewAgentService(repo)

	got, err := s.Get(context.Background(), "user-1", agent.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.ID)

	_, err = s.Get(context.Background(), "user-2", agent.ID)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}
