package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndParse(t *testing.T) {
	m := NewTokenManager("secret", "fire-watcher")
	user := &models.User{ID: uuid.New(), Role: models.RoleFireTeam, Email: "crew@example.com", Name: "Crew"}

	token, err := m.Issue(user, time.Hour)
	require.NoError(t, err)

	principal, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.ID)
	assert.Equal(t, models.RoleFireTeam, principal.Role)
	assert.Equal(t, "Crew", principal.Name)
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("secret", "fire-watcher")
	token, err := m.Issue(&models.User{ID: uuid.New(), Role: models.RolePublic}, -time.Minute)
	require.NoError(t, err)

	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_WrongSecret(t *testing.T) {
	token, err := NewTokenManager("other", "fire-watcher").Issue(&models.User{ID: uuid.New(), Role: models.RolePublic}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "fire-watcher").Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_UnknownRole(t *testing.T) {
	claims := &Claims{
		UserID: uuid.NewString(),
		Role:   "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fire-watcher",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "fire-watcher").Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Garbage(t *testing.T) {
	_, err := NewTokenManager("secret", "fire-watcher").Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
