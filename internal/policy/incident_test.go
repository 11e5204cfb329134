package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/stretchr/testify/assert"
)

var (
	publicUser = &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	otherUser  = &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	fireTeam   = &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	admin      = &models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
)

func TestCanCreate(t *testing.T) {
	assert.NoError(t, CanCreate(nil))
	assert.NoError(t, CanCreate(publicUser))
	assert.NoError(t, CanCreate(fireTeam))
}

func TestCanList(t *testing.T) {
	assert.ErrorIs(t, CanList(nil), models.ErrAuthenticationRequired)
	assert.NoError(t, CanList(publicUser))
	assert.NoError(t, CanList(admin))
}

func TestListScope(t *testing.T) {
	scope := ListScope(publicUser)
	if assert.NotNil(t, scope) {
		assert.Equal(t, publicUser.ID, *scope)
	}
	assert.Nil(t, ListScope(fireTeam))
	assert.Nil(t, ListScope(admin))
}

func TestCanView(t *testing.T) {
	incident := &models.Incident{ID: uuid.New(), ReporterID: &publicUser.ID}
	anonymousIncident := &models.Incident{ID: uuid.New()}

	tests := []struct {
		name     string
		actor    *models.Principal
		incident *models.Incident
		wantErr  error
	}{
		{"anonymous", nil, incident, models.ErrAuthenticationRequired},
		{"owner", publicUser, incident, nil},
		{"other public user", otherUser, incident, models.ErrForbidden},
		{"public user and anonymous report", publicUser, anonymousIncident, models.ErrForbidden},
		{"fire team", fireTeam, incident, nil},
		{"admin sees anonymous report", admin, anonymousIncident, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanView(tt.actor, tt.incident)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCanUpdateStatus(t *testing.T) {
	assert.ErrorIs(t, CanUpdateStatus(nil), models.ErrForbidden)
	assert.ErrorIs(t, CanUpdateStatus(publicUser), models.ErrForbidden)
	assert.NoError(t, CanUpdateStatus(fireTeam))
	assert.NoError(t, CanUpdateStatus(admin))
}

func TestCanViewDashboard(t *testing.T) {
	assert.ErrorIs(t, CanViewDashboard(nil), models.ErrForbidden)
	assert.ErrorIs(t, CanViewDashboard(publicUser), models.ErrForbidden)
	assert.NoError(t, CanViewDashboard(fireTeam))
	assert.NoError(t, CanViewDashboard(admin))
}

func TestCanViewHistory(t *testing.T) {
	assert.ErrorIs(t, CanViewHistory(nil), models.ErrAuthenticationRequired)
	assert.NoError(t, CanViewHistory(otherUser))
	assert.NoError(t, CanViewHistory(fireTeam))
}
