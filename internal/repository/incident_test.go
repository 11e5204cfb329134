package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestBuildListFilter(t *testing.T) {
	reporter := uuid.New()

	tests := []struct {
		name      string
		filter    models.IncidentFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "no filters",
			filter:    models.IncidentFilter{},
			wantWhere: "",
			wantArgs:  nil,
		},
		{
			name:      "reporter scope and status",
			filter:    models.IncidentFilter{ReporterID: &reporter, Status: models.StatusArrived},
			wantWhere: " WHERE reporter_id = $1 AND status = $2",
			wantArgs:  []any{reporter, models.StatusArrived},
		},
		{
			name:      "search",
			filter:    models.IncidentFilter{Search: "50%_off"},
			wantWhere: " WHERE (address ILIKE $1 OR description ILIKE $1 OR reporter_name ILIKE $1)",
			wantArgs:  []any{`%50\%\_off%`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildListFilter(tt.filter)
			assert.Equal(t, tt.wantWhere, where)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "plain", escapeLike("plain"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
	assert.Equal(t, `\%\_`, escapeLike("%_"))
}

func TestOrderClause(t *testing.T) {
	assert.Equal(t, "created_at DESC, id DESC", orderClause(""))
	assert.Equal(t, "created_at DESC, id DESC", orderClause("-created_at"))
	assert.Equal(t, "status ASC, id ASC", orderClause("status"))
	assert.Equal(t, "updated_at DESC, id DESC", orderClause("-updated_at"))
	// произвольный ввод не попадает в SQL
	assert.Equal(t, "created_at DESC, id DESC", orderClause("id; DROP TABLE incidents"))
}

func TestIncidentCacheKey(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a0e6-7b2d4e8c5f10")
	assert.Equal(t, "incident:8f14e45f-ceea-467f-a0e6-7b2d4e8c5f10", incidentCacheKey(id))
}
