package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/config"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/shenikar/fire_watcher/internal/service/mocks"
	"github.com/shenikar/fire_watcher/internal/webhook"
	webhook_mocks "github.com/shenikar/fire_watcher/internal/webhook/mocks"
	"github.com/shenikar/fire_watcher/pkg/storage"
	storage_mocks "github.com/shenikar/fire_watcher/pkg/storage/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testDeps struct {
	repo    *mocks.MockIncidentRepository
	users   *mocks.MockUserRepository
	storage *storage_mocks.MockStorage
	webhook *webhook_mocks.MockWebhookPublisher
}

// newTestIncidentService - вспомогательная функция для создания инстанса сервиса с моками.
func newTestIncidentService(t *testing.T) (*incidentService, testDeps) {
	ctrl := gomock.NewController(t)
	deps := testDeps{
		repo:    mocks.NewMockIncidentRepository(ctrl),
		users:   mocks.NewMockUserRepository(ctrl),
		storage: storage_mocks.NewMockStorage(ctrl),
		webhook: webhook_mocks.NewMockWebhookPublisher(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{IncidentCacheTTL: time.Minute}

	service := NewIncidentService(deps.repo, deps.users, deps.storage, deps.webhook, logger, cfg)
	svc := service.(*incidentService)
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return svc, deps
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func validInput() models.NewIncident {
	return models.NewIncident{
		Latitude:    55.7558,
		Longitude:   37.6173,
		Address:     "ул. Лесная, 1",
		Description: "Горит сухая трава",
	}
}

func strPtr(s string) *string { return &s }

func TestCreateIncident_Success_Authenticated(t *testing.T) {
	// Подготовка
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic, Name: "Иван"}
	user := &models.User{ID: actor.ID, Name: "Иван Петров", Phone: "+79990001122", Role: models.RolePublic}

	// Ожидания
	deps.users.EXPECT().GetByID(ctx, actor.ID).Return(user, nil).Times(1)
	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Len(0)).
		DoAndReturn(func(ctx context.Context, inc *models.Incident, upd *models.StatusUpdate, photos []*models.IncidentPhoto) error {
			assert.Equal(t, models.StatusNew, inc.Status)
			assert.Equal(t, "Иван Петров", inc.ReporterName)
			assert.Equal(t, "+79990001122", inc.ReporterPhone)
			require.NotNil(t, inc.ReporterID)
			assert.Equal(t, actor.ID, *inc.ReporterID)

			assert.Equal(t, inc.ID, upd.IncidentID)
			assert.Equal(t, models.StatusNew, upd.Status)
			assert.Equal(t, models.InitialStatusNotes, upd.Notes)
			require.NotNil(t, upd.UpdatedByID)
			assert.Equal(t, actor.ID, *upd.UpdatedByID)
			return nil
		}).Times(1)
	deps.webhook.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event webhook.WebhookEvent) {
			assert.Equal(t, webhook.EventIncidentCreated, event.Event)
			assert.Equal(t, models.StatusNew, event.Status)
		}).Return(nil).Times(1)

	// Действие
	detail, err := service.CreateIncident(ctx, actor, validInput(), nil)

	// Проверки
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, detail.ID)
	require.Len(t, detail.StatusUpdates, 1)
	assert.Equal(t, models.InitialStatusNotes, detail.StatusUpdates[0].Notes)
	require.NotNil(t, detail.Reporter)
	assert.Equal(t, user.ID, detail.Reporter.ID)
}

func TestCreateIncident_ExplicitContactsWin(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	user := &models.User{ID: actor.ID, Name: "Профиль", Phone: "111"}

	input := validInput()
	input.ReporterName = strPtr("  Соседка  ")
	input.ReporterPhone = strPtr("222")

	deps.users.EXPECT().GetByID(ctx, actor.ID).Return(user, nil)
	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident, _ *models.StatusUpdate, _ []*models.IncidentPhoto) error {
			assert.Equal(t, "Соседка", inc.ReporterName)
			assert.Equal(t, "222", inc.ReporterPhone)
			return nil
		})
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := service.CreateIncident(ctx, actor, input, nil)
	require.NoError(t, err)
}

func TestCreateIncident_Anonymous(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()

	// Профиль не запрашивается
	deps.users.EXPECT().GetByID(gomock.Any(), gomock.Any()).Times(0)
	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident, upd *models.StatusUpdate, _ []*models.IncidentPhoto) error {
			assert.Nil(t, inc.ReporterID)
			assert.Equal(t, models.AnonymousReporterName, inc.ReporterName)
			assert.Equal(t, "", inc.ReporterPhone)
			assert.Nil(t, upd.UpdatedByID)
			return nil
		})
	// ошибка публикации не ломает создание
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("redis down"))

	detail, err := service.CreateIncident(ctx, nil, validInput(), nil)

	require.NoError(t, err)
	assert.Nil(t, detail.Reporter)
	assert.Equal(t, models.StatusNew, detail.Status)
}

func TestCreateIncident_ServicePrincipal(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{Role: models.RoleAdmin, Name: "dispatch"}

	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident, upd *models.StatusUpdate, _ []*models.IncidentPhoto) error {
			assert.Nil(t, inc.ReporterID)
			assert.Equal(t, "dispatch", inc.ReporterName)
			assert.Nil(t, upd.UpdatedByID)
			return nil
		})
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := service.CreateIncident(ctx, actor, validInput(), nil)
	require.NoError(t, err)
}

func TestCreateIncident_ValidationError(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()

	input := validInput()
	input.Latitude = 91
	input.Address = "   "

	deps.repo.EXPECT().CreateWithInitialUpdate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	deps.webhook.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	detail, err := service.CreateIncident(ctx, nil, input, nil)

	require.Error(t, err)
	assert.Nil(t, detail)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "lat")
	assert.Contains(t, verr.Fields, "address")
	assert.NotContains(t, verr.Fields, "lng")
}

func TestCreateIncident_ZeroCoordinatesAreValid(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()

	input := validInput()
	input.Latitude, input.Longitude = 0, 0

	deps.repo.EXPECT().CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	_, err := service.CreateIncident(ctx, nil, input, nil)
	require.NoError(t, err)
}

func TestCreateIncident_RejectsNonImage(t *testing.T) {
	service, deps := newTestIncidentService(t)

	deps.storage.EXPECT().Upload(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.CreateIncident(context.Background(), nil, validInput(), []models.PhotoUpload{
		{Filename: "notes.txt", Data: []byte("just text")},
	})

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file is not an image", verr.Fields["photos[0]"])
}

func TestCreateIncident_WithPhotos(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()

	deps.storage.EXPECT().
		Upload(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *storage.UploadRequest) (*storage.UploadResponse, error) {
			assert.True(t, strings.HasPrefix(req.Key, "incident_photos/2024/03/09/"))
			assert.True(t, strings.HasSuffix(req.Key, ".png"))
			assert.Equal(t, "image/png", req.ContentType)
			assert.Equal(t, int64(len(pngHeader)), req.Size)
			return &storage.UploadResponse{Key: req.Key, URL: "/media/" + req.Key, Size: req.Size}, nil
		}).Times(2)
	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Len(2)).
		Return(nil)
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	detail, err := service.CreateIncident(ctx, nil, validInput(), []models.PhotoUpload{
		{Filename: "a.PNG", ContentType: "image/png", Data: pngHeader},
		{Filename: "b.png", Data: pngHeader},
	})

	require.NoError(t, err)
	require.Len(t, detail.Photos, 2)
	assert.Equal(t, detail.ID, detail.Photos[0].IncidentID)
	assert.True(t, strings.HasPrefix(detail.Photos[0].URL, "/media/incident_photos/"))
}

func TestCreateIncident_RepositoryFailureDiscardsPhotos(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()

	var uploadedKey string
	deps.storage.EXPECT().
		Upload(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, req *storage.UploadRequest) (*storage.UploadResponse, error) {
			uploadedKey = req.Key
			return &storage.UploadResponse{Key: req.Key, URL: "/media/" + req.Key}, nil
		})
	deps.repo.EXPECT().
		CreateWithInitialUpdate(ctx, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("tx aborted"))
	deps.storage.EXPECT().
		Delete(ctx, gomock.Any()).
		Do(func(ctx context.Context, key string) {
			assert.Equal(t, uploadedKey, key)
		}).Return(nil)
	deps.webhook.EXPECT().Publish(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.CreateIncident(ctx, nil, validInput(), []models.PhotoUpload{
		{Filename: "a.png", Data: pngHeader},
	})

	require.Error(t, err)
	assert.ErrorContains(t, err, "could not create incident")
}

func TestCreateIncident_DeletedAccount(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}

	deps.users.EXPECT().GetByID(ctx, actor.ID).Return(nil, models.ErrNotFound)

	_, err := service.CreateIncident(ctx, actor, validInput(), nil)
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
}

func TestUpdateStatus_Success(t *testing.T) {
	// Подготовка
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	incidentID := uuid.New()
	existing := &models.Incident{ID: incidentID, Status: models.StatusNew}
	updated := &models.Incident{ID: incidentID, Status: models.StatusEnroute, UpdatedAt: time.Now()}
	history := []*models.StatusUpdate{
		{IncidentID: incidentID, Status: models.StatusEnroute, Notes: "Выехали"},
		{IncidentID: incidentID, Status: models.StatusNew, Notes: models.InitialStatusNotes},
	}

	// Ожидания
	gomock.InOrder(
		deps.repo.EXPECT().GetByID(ctx, incidentID).Return(existing, nil),
		deps.repo.EXPECT().
			UpdateStatus(ctx, incidentID, gomock.Any()).
			DoAndReturn(func(ctx context.Context, id uuid.UUID, upd *models.StatusUpdate) (*models.Incident, error) {
				assert.Equal(t, models.StatusEnroute, upd.Status)
				assert.Equal(t, "Выехали", upd.Notes)
				require.NotNil(t, upd.UpdatedByID)
				assert.Equal(t, actor.ID, *upd.UpdatedByID)
				return updated, nil
			}),
		deps.webhook.EXPECT().
			Publish(ctx, gomock.Any()).
			Do(func(ctx context.Context, event webhook.WebhookEvent) {
				assert.Equal(t, webhook.EventIncidentStatusChanged, event.Event)
				assert.Equal(t, models.StatusEnroute, event.Status)
				assert.Equal(t, models.StatusNew, event.PreviousStatus)
				assert.Equal(t, "Выехали", event.Notes)
			}).Return(nil),
		deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(&models.IncidentDetail{Incident: *updated, StatusUpdates: history}, nil),
		// в кеш сразу пишется новая версия
		deps.repo.EXPECT().
			SetIncidentCache(ctx, gomock.Any()).
			Do(func(ctx context.Context, detail *models.IncidentDetail) {
				assert.Equal(t, models.StatusEnroute, detail.Status)
			}).Return(nil),
	)
	deps.repo.EXPECT().InvalidateIncidentCache(gomock.Any(), gomock.Any()).Times(0)

	// Действие
	detail, err := service.UpdateStatus(ctx, actor, incidentID, models.StatusEnroute, "Выехали")

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnroute, detail.Status)
	assert.Equal(t, history, detail.StatusUpdates)
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	incidentID := uuid.New()

	deps.repo.EXPECT().GetByID(ctx, incidentID).Return(&models.Incident{ID: incidentID, Status: models.StatusNew}, nil)
	deps.repo.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := service.UpdateStatus(ctx, actor, incidentID, models.Status("bogus"), "")

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields["status"], "bogus")
}

func TestUpdateStatus_NotFound(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	incidentID := uuid.New()

	deps.repo.EXPECT().GetByID(ctx, incidentID).Return(nil, models.ErrNotFound)

	// неизвестный статус не важен, если инцидента нет
	_, err := service.UpdateStatus(ctx, actor, incidentID, models.Status("bogus"), "")

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorContains(t, err, "not found for update")
}

func TestUpdateStatus_ForbiddenForPublic(t *testing.T) {
	service, deps := newTestIncidentService(t)
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}

	deps.repo.EXPECT().GetByID(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.UpdateStatus(context.Background(), actor, uuid.New(), models.StatusClosed, "")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestUpdateStatus_ServicePrincipalHasNoActor(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{Role: models.RoleAdmin}
	incidentID := uuid.New()
	incident := &models.Incident{ID: incidentID, Status: models.StatusFighting}

	deps.repo.EXPECT().GetByID(ctx, incidentID).Return(incident, nil)
	deps.repo.EXPECT().
		UpdateStatus(ctx, incidentID, gomock.Any()).
		DoAndReturn(func(ctx context.Context, id uuid.UUID, upd *models.StatusUpdate) (*models.Incident, error) {
			assert.Nil(t, upd.UpdatedByID)
			return &models.Incident{ID: incidentID, Status: models.StatusNew}, nil
		})
	detail := &models.IncidentDetail{
		Incident:      models.Incident{ID: incidentID, Status: models.StatusNew},
		StatusUpdates: []*models.StatusUpdate{{IncidentID: incidentID, Status: models.StatusNew}},
	}
	deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(detail, nil)
	// кеш и вебхук не критичны для результата
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("redis down"))
	deps.repo.EXPECT().SetIncidentCache(ctx, detail).Return(errors.New("redis down"))
	deps.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(errors.New("redis down"))

	// переход назад разрешен
	got, err := service.UpdateStatus(ctx, actor, incidentID, models.StatusNew, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
}

func TestUpdateStatus_ReloadFailureDropsCache(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	incidentID := uuid.New()

	deps.repo.EXPECT().GetByID(ctx, incidentID).Return(&models.Incident{ID: incidentID, Status: models.StatusNew}, nil)
	deps.repo.EXPECT().UpdateStatus(ctx, incidentID, gomock.Any()).Return(&models.Incident{ID: incidentID, Status: models.StatusArrived}, nil)
	deps.webhook.EXPECT().Publish(ctx, gomock.Any()).Return(nil)
	deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(nil, errors.New("connection reset"))
	deps.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	deps.repo.EXPECT().SetIncidentCache(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.UpdateStatus(ctx, actor, incidentID, models.StatusArrived, "")
	assert.ErrorContains(t, err, "could not load updated incident")
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	incidentID := uuid.New()
	cached := &models.IncidentDetail{Incident: models.Incident{ID: incidentID, Description: "из кеша"}}

	// Ожидания
	deps.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(cached, nil).Times(1)
	deps.repo.EXPECT().GetDetail(gomock.Any(), gomock.Any()).Times(0)

	// Действие
	detail, err := service.GetIncident(ctx, actor, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, cached, detail)
}

func TestGetIncident_CachedButForbidden(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	incidentID := uuid.New()
	owner := uuid.New()
	cached := &models.IncidentDetail{Incident: models.Incident{ID: incidentID, ReporterID: &owner}}

	deps.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(cached, nil)

	_, err := service.GetIncident(ctx, actor, incidentID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	incidentID := uuid.New()
	photos := []*models.IncidentPhoto{{ID: uuid.New(), IncidentID: incidentID, URL: "/media/x.png"}}
	updates := []*models.StatusUpdate{{IncidentID: incidentID, Status: models.StatusArrived}}
	stored := &models.IncidentDetail{
		Incident:      models.Incident{ID: incidentID, ReporterID: &actor.ID, Status: models.StatusArrived},
		Reporter:      &models.UserSummary{ID: actor.ID, Name: "Иван", Role: models.RolePublic},
		Photos:        photos,
		StatusUpdates: updates,
	}

	// 1. Промах кеша, ошибка кеша не мешает чтению из БД
	deps.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, errors.New("redis down"))
	// 2. Карточка читается одним вызовом репозитория
	deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(stored, nil).Times(1)
	deps.users.EXPECT().GetByID(gomock.Any(), gomock.Any()).Times(0)
	// 3. Запись в кеш
	deps.repo.EXPECT().
		SetIncidentCache(ctx, gomock.Any()).
		Do(func(ctx context.Context, detail *models.IncidentDetail) {
			assert.Equal(t, incidentID, detail.ID)
		}).Return(nil)

	detail, err := service.GetIncident(ctx, actor, incidentID)

	require.NoError(t, err)
	assert.Equal(t, photos, detail.Photos)
	assert.Equal(t, updates, detail.StatusUpdates)
	require.NotNil(t, detail.Reporter)
	assert.Equal(t, "Иван", detail.Reporter.Name)
}

func TestGetIncident_NotFound(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
	incidentID := uuid.New()

	deps.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil)
	deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(nil, models.ErrNotFound)

	incident, err := service.GetIncident(ctx, actor, incidentID)

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorContains(t, err, "could not get incident")
}

func TestGetIncident_StatusBehindHistoryIsNotCached(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}
	incidentID := uuid.New()
	detail := &models.IncidentDetail{
		Incident: models.Incident{ID: incidentID, Status: models.StatusNew},
		StatusUpdates: []*models.StatusUpdate{
			{IncidentID: incidentID, Status: models.StatusFighting},
			{IncidentID: incidentID, Status: models.StatusNew},
		},
	}

	deps.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil)
	deps.repo.EXPECT().GetDetail(ctx, incidentID).Return(detail, nil)
	deps.repo.EXPECT().SetIncidentCache(gomock.Any(), gomock.Any()).Times(0)
	deps.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil)

	_, err := service.GetIncident(ctx, actor, incidentID)
	require.NoError(t, err)
}

func TestGetIncident_Anonymous(t *testing.T) {
	service, _ := newTestIncidentService(t)

	_, err := service.GetIncident(context.Background(), nil, uuid.New())
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
}

func TestListIncidents_ScopedForPublicUser(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	results := []*models.Incident{{ID: uuid.New(), ReporterID: &actor.ID}}

	deps.repo.EXPECT().
		ListIncidents(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error) {
			require.NotNil(t, filter.ReporterID)
			assert.Equal(t, actor.ID, *filter.ReporterID)
			assert.Equal(t, PageSize, filter.Limit)
			assert.Equal(t, 0, filter.Offset)
			return results, 1, nil
		})

	page, err := service.ListIncidents(ctx, actor, models.IncidentQuery{})

	require.NoError(t, err)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, PageSize, page.PageSize)
	assert.Equal(t, results, page.Results)
}

func TestListIncidents_NormalizesQuery(t *testing.T) {
	tests := []struct {
		name       string
		query      models.IncidentQuery
		wantStatus models.Status
		wantOrder  string
		wantOffset int
		wantSearch string
	}{
		{
			name:       "defaults",
			query:      models.IncidentQuery{},
			wantOrder:  models.DefaultOrdering,
			wantOffset: 0,
		},
		{
			name:       "valid filters",
			query:      models.IncidentQuery{Status: "fighting", Ordering: "status", Page: 3, Search: "  лес "},
			wantStatus: models.StatusFighting,
			wantOrder:  "status",
			wantOffset: 2 * PageSize,
			wantSearch: "лес",
		},
		{
			name:       "unknown status and ordering are ignored",
			query:      models.IncidentQuery{Status: "burning", Ordering: "-address", Page: -4},
			wantOrder:  models.DefaultOrdering,
			wantOffset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, deps := newTestIncidentService(t)
			ctx := context.Background()
			actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}

			deps.repo.EXPECT().
				ListIncidents(ctx, gomock.Any()).
				DoAndReturn(func(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error) {
					assert.Nil(t, filter.ReporterID)
					assert.Equal(t, tt.wantStatus, filter.Status)
					assert.Equal(t, tt.wantOrder, filter.Ordering)
					assert.Equal(t, tt.wantOffset, filter.Offset)
					assert.Equal(t, tt.wantSearch, filter.Search)
					return []*models.Incident{}, 0, nil
				})

			_, err := service.ListIncidents(ctx, actor, tt.query)
			require.NoError(t, err)
		})
	}
}

func TestListIncidents_Anonymous(t *testing.T) {
	service, deps := newTestIncidentService(t)
	deps.repo.EXPECT().ListIncidents(gomock.Any(), gomock.Any()).Times(0)

	_, err := service.ListIncidents(context.Background(), nil, models.IncidentQuery{})
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
}

func TestGetStatusHistory(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RolePublic}
	incidentID := uuid.New()
	history := []*models.StatusUpdate{
		{Status: models.StatusArrived, Timestamp: time.Now()},
		{Status: models.StatusNew, Timestamp: time.Now().Add(-time.Hour)},
	}

	deps.repo.EXPECT().ListStatusUpdates(ctx, incidentID).Return(history, nil)

	updates, err := service.GetStatusHistory(ctx, actor, incidentID)

	require.NoError(t, err)
	assert.Equal(t, history, updates)

	_, err = service.GetStatusHistory(ctx, nil, incidentID)
	assert.ErrorIs(t, err, models.ErrAuthenticationRequired)
}

func TestDashboardStats_Success(t *testing.T) {
	service, deps := newTestIncidentService(t)
	ctx := context.Background()
	actor := &models.Principal{ID: uuid.New(), Role: models.RoleFireTeam}

	deps.repo.EXPECT().CountByStatus(ctx).Return(map[models.Status]int{
		models.StatusNew:          2,
		models.StatusEnroute:      1,
		models.StatusFighting:     3,
		models.StatusExtinguished: 4,
		models.StatusClosed:       5,
	}, nil)

	stats, err := service.DashboardStats(ctx, actor)

	require.NoError(t, err)
	assert.Equal(t, &models.DashboardStats{New: 2, Active: 4, Resolved: 9, Total: 15}, stats)
}

func TestDashboardStats_Forbidden(t *testing.T) {
	service, deps := newTestIncidentService(t)
	deps.repo.EXPECT().CountByStatus(gomock.Any()).Times(0)

	_, err := service.DashboardStats(context.Background(), &models.Principal{ID: uuid.New(), Role: models.RolePublic})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestAggregateStats_Empty(t *testing.T) {
	assert.Equal(t, models.DashboardStats{}, AggregateStats(nil))
}

func TestPhotoKey(t *testing.T) {
	now := time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC)

	key := photoKey(now, "Снимок.JPG")
	assert.True(t, strings.HasPrefix(key, "incident_photos/2025/01/02/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))

	assert.NotContains(t, photoKey(now, "noext"), ".")
}
