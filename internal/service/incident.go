package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/config"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/shenikar/fire_watcher/internal/policy"
	"github.com/shenikar/fire_watcher/internal/webhook"
	"github.com/shenikar/fire_watcher/pkg/storage"
	"github.com/sirupsen/logrus"
)

// PageSize - фиксированный размер страницы списка инцидентов
const PageSize = 20

// IncidentRepository определяет контракт для работы с бд инцидентов.
// Методы, изменяющие несколько таблиц, выполняются в одной транзакции.
type IncidentRepository interface {
	CreateWithInitialUpdate(ctx context.Context, incident *models.Incident, update *models.StatusUpdate, photos []*models.IncidentPhoto) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*models.IncidentDetail, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, update *models.StatusUpdate) (*models.Incident, error)
	ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error)
	ListStatusUpdates(ctx context.Context, incidentID uuid.UUID) ([]*models.StatusUpdate, error)
	CountByStatus(ctx context.Context) (map[models.Status]int, error)

	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.IncidentDetail, error)
	SetIncidentCache(ctx context.Context, detail *models.IncidentDetail) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// UserRepository - чтение учетных записей, которыми управляет сервис аккаунтов
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// IncidentService определяет контракт для бизнес-логики управления инцидентами
type IncidentService interface {
	CreateIncident(ctx context.Context, actor *models.Principal, input models.NewIncident, photos []models.PhotoUpload) (*models.IncidentDetail, error)
	GetIncident(ctx context.Context, actor *models.Principal, id uuid.UUID) (*models.IncidentDetail, error)
	UpdateStatus(ctx context.Context, actor *models.Principal, id uuid.UUID, status models.Status, notes string) (*models.IncidentDetail, error)
	ListIncidents(ctx context.Context, actor *models.Principal, query models.IncidentQuery) (*models.IncidentPage, error)
	GetStatusHistory(ctx context.Context, actor *models.Principal, id uuid.UUID) ([]*models.StatusUpdate, error)
	DashboardStats(ctx context.Context, actor *models.Principal) (*models.DashboardStats, error)
}

type incidentService struct {
	repo      IncidentRepository
	users     UserRepository
	storage   storage.Storage
	publisher webhook.WebhookPublisher
	logger    *logrus.Logger
	cfg       *config.Config
	validate  *validator.Validate
	now       func() time.Time
}

func NewIncidentService(
	repo IncidentRepository,
	users UserRepository,
	store storage.Storage,
	publisher webhook.WebhookPublisher,
	logger *logrus.Logger,
	cfg *config.Config,
) IncidentService {
	validate := validator.New()
	// в ошибках валидации используем имена полей API
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &incidentService{
		repo:      repo,
		users:     users,
		storage:   store,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		validate:  validate,
		now:       time.Now,
	}
}

// CreateIncident создает инцидент вместе с первой записью истории и фотографиями
func (s *incidentService) CreateIncident(ctx context.Context, actor *models.Principal, input models.NewIncident, photos []models.PhotoUpload) (*models.IncidentDetail, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "incident",
		"method":  "CreateIncident",
	})
	log.Info("Attempting to create a new incident")

	if err := policy.CanCreate(actor); err != nil {
		return nil, err
	}

	input.Address = strings.TrimSpace(input.Address)
	input.Description = strings.TrimSpace(input.Description)
	if err := s.validateNewIncident(input, photos); err != nil {
		log.WithError(err).Warn("Incident validation failed")
		return nil, err
	}

	reporter, err := s.reporterProfile(ctx, actor)
	if err != nil {
		log.WithError(err).Warn("Failed to resolve reporter profile")
		return nil, err
	}

	incident := &models.Incident{
		ID:          uuid.New(),
		ReporterID:  actor.ActorID(),
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		Address:     input.Address,
		Description: input.Description,
		Status:      models.StatusNew,
	}
	incident.ReporterName, incident.ReporterPhone = reporterContacts(input, actor, reporter)

	stored, err := s.storePhotos(ctx, incident.ID, photos)
	if err != nil {
		log.WithError(err).Error("Failed to store incident photos")
		return nil, fmt.Errorf("service: could not store photos: %w", err)
	}

	update := &models.StatusUpdate{
		ID:          uuid.New(),
		IncidentID:  incident.ID,
		Status:      models.StatusNew,
		UpdatedByID: actor.ActorID(),
		UpdatedBy:   reporter.Summary(),
		Notes:       models.InitialStatusNotes,
	}

	if err := s.repo.CreateWithInitialUpdate(ctx, incident, update, stored); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		s.discardPhotos(ctx, log, stored)
		return nil, fmt.Errorf("service: could not create incident: %w", err)
	}

	log = log.WithField("incident_id", incident.ID)
	log.Info("Incident created successfully")

	s.publish(ctx, log, webhook.NewIncidentEvent(webhook.EventIncidentCreated, incident))

	return &models.IncidentDetail{
		Incident:      *incident,
		Reporter:      reporter.Summary(),
		Photos:        stored,
		StatusUpdates: []*models.StatusUpdate{update},
	}, nil
}

// UpdateStatus переводит инцидент в новый статус и дописывает запись в историю.
// Порядок статусов не проверяется: допустим переход из любого статуса в любой.
func (s *incidentService) UpdateStatus(ctx context.Context, actor *models.Principal, id uuid.UUID, status models.Status, notes string) (*models.IncidentDetail, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateStatus",
		"incident_id": id,
		"status":      status,
	})
	log.Info("Attempting to update incident status")

	if err := policy.CanUpdateStatus(actor); err != nil {
		log.Warn("Status update rejected by policy")
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Attempted to update a non-existent incident")
		return nil, fmt.Errorf("service: incident with id %s not found for update: %w", id, err)
	}

	if !status.Valid() {
		return nil, models.NewValidationError("status", fmt.Sprintf("invalid status %q, must be one of: %s", status, joinStatuses()))
	}

	update := &models.StatusUpdate{
		ID:          uuid.New(),
		IncidentID:  id,
		Status:      status,
		UpdatedByID: actor.ActorID(),
		Notes:       notes,
	}

	updated, err := s.repo.UpdateStatus(ctx, id, update)
	if err != nil {
		log.WithError(err).Error("Failed to update incident status in repository")
		return nil, fmt.Errorf("service: could not update incident status: %w", err)
	}

	log.WithField("previous_status", current.Status).Info("Incident status updated successfully")

	event := webhook.NewIncidentEvent(webhook.EventIncidentStatusChanged, updated)
	event.PreviousStatus = current.Status
	event.Notes = notes
	event.UpdatedBy = update.UpdatedByID
	s.publish(ctx, log, event)

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		s.invalidate(ctx, log, id)
		return nil, fmt.Errorf("service: could not load updated incident: %w", err)
	}
	// новая версия в кеше: более раннее чтение ее уже не перезапишет
	s.cache(ctx, log, detail)
	return detail, nil
}

// GetIncident получает инцидент по ID вместе с фотографиями и историей
func (s *incidentService) GetIncident(ctx context.Context, actor *models.Principal, id uuid.UUID) (*models.IncidentDetail, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})
	log.Info("Fetching incident by ID")

	if actor == nil {
		return nil, models.ErrAuthenticationRequired
	}

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident from cache")
	}
	if cached != nil {
		if err := policy.CanView(actor, &cached.Incident); err != nil {
			return nil, err
		}
		log.Debug("Incident served from cache")
		return cached, nil
	}

	detail, err := s.repo.GetDetail(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident in repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := policy.CanView(actor, &detail.Incident); err != nil {
		return nil, err
	}

	s.cache(ctx, log, detail)

	log.Info("Incident fetched successfully")
	return detail, nil
}

// ListIncidents возвращает страницу инцидентов с учетом роли участника
func (s *incidentService) ListIncidents(ctx context.Context, actor *models.Principal, query models.IncidentQuery) (*models.IncidentPage, error) {
	if err := policy.CanList(actor); err != nil {
		return nil, err
	}

	page := query.Page
	if page < 1 {
		page = 1
	}

	filter := models.IncidentFilter{
		ReporterID: policy.ListScope(actor),
		Search:     strings.TrimSpace(query.Search),
		Ordering:   query.Ordering,
		Limit:      PageSize,
		Offset:     (page - 1) * PageSize,
	}
	// неизвестный статус не является ошибкой, фильтр просто не применяется
	if status := models.Status(query.Status); status.Valid() {
		filter.Status = status
	}
	if !models.ValidOrdering(filter.Ordering) {
		filter.Ordering = models.DefaultOrdering
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":  "incident",
		"method":   "ListIncidents",
		"page":     page,
		"status":   filter.Status,
		"ordering": filter.Ordering,
		"scoped":   filter.ReporterID != nil,
	})
	log.Info("Listing incidents")

	incidents, total, err := s.repo.ListIncidents(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return &models.IncidentPage{
		Count:    total,
		Page:     page,
		PageSize: PageSize,
		Results:  incidents,
	}, nil
}

// GetStatusHistory возвращает историю статусов, новые записи первыми
func (s *incidentService) GetStatusHistory(ctx context.Context, actor *models.Principal, id uuid.UUID) ([]*models.StatusUpdate, error) {
	if err := policy.CanViewHistory(actor); err != nil {
		return nil, err
	}

	updates, err := s.repo.ListStatusUpdates(ctx, id)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"service":     "incident",
			"method":      "GetStatusHistory",
			"incident_id": id,
		}).WithError(err).Error("Failed to list status updates")
		return nil, fmt.Errorf("service: could not list status updates: %w", err)
	}
	return updates, nil
}

// DashboardStats возвращает количество инцидентов по группам статусов
func (s *incidentService) DashboardStats(ctx context.Context, actor *models.Principal) (*models.DashboardStats, error) {
	if err := policy.CanViewDashboard(actor); err != nil {
		return nil, err
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		s.logger.WithField("method", "DashboardStats").WithError(err).Error("Failed to count incidents by status")
		return nil, fmt.Errorf("service: could not get dashboard stats: %w", err)
	}

	stats := AggregateStats(counts)
	return &stats, nil
}

// AggregateStats раскладывает количества по статусам в группы панели
func AggregateStats(counts map[models.Status]int) models.DashboardStats {
	var stats models.DashboardStats
	for status, count := range counts {
		switch status {
		case models.StatusNew:
			stats.New += count
		case models.StatusEnroute, models.StatusArrived, models.StatusFighting:
			stats.Active += count
		case models.StatusExtinguished, models.StatusClosed:
			stats.Resolved += count
		}
		stats.Total += count
	}
	return stats
}

// cache кладет согласованную карточку в кеш, при ошибке записи удаляет старую
func (s *incidentService) cache(ctx context.Context, log *logrus.Entry, detail *models.IncidentDetail) {
	if !detail.Consistent() {
		log.WithField("status", detail.Status).Warn("Incident status does not match its history, skipping cache")
		s.invalidate(ctx, log, detail.ID)
		return
	}
	if err := s.repo.SetIncidentCache(ctx, detail); err != nil {
		log.WithError(err).Warn("Failed to put incident into cache")
		s.invalidate(ctx, log, detail.ID)
	}
}

func (s *incidentService) invalidate(ctx context.Context, log *logrus.Entry, id uuid.UUID) {
	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
}

// reporterProfile загружает учетную запись отправителя, nil для анонимов и сервисов
func (s *incidentService) reporterProfile(ctx context.Context, actor *models.Principal) (*models.User, error) {
	id := actor.ActorID()
	if id == nil {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, *id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// токен пережил удаление учетной записи
			return nil, models.ErrAuthenticationRequired
		}
		return nil, fmt.Errorf("service: could not load reporter profile: %w", err)
	}
	return user, nil
}

// reporterContacts выбирает имя и телефон отправителя: переданные явно, затем из профиля
func reporterContacts(input models.NewIncident, actor *models.Principal, reporter *models.User) (string, string) {
	name := models.AnonymousReporterName
	phone := ""
	switch {
	case reporter != nil:
		name, phone = reporter.Name, reporter.Phone
	case actor != nil && actor.Name != "":
		name = actor.Name
	}

	if input.ReporterName != nil && strings.TrimSpace(*input.ReporterName) != "" {
		name = strings.TrimSpace(*input.ReporterName)
	}
	if input.ReporterPhone != nil && strings.TrimSpace(*input.ReporterPhone) != "" {
		phone = strings.TrimSpace(*input.ReporterPhone)
	}
	return name, phone
}

func (s *incidentService) validateNewIncident(input models.NewIncident, photos []models.PhotoUpload) error {
	fields := map[string]string{}

	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("service: could not validate incident: %w", err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
	}

	for i, photo := range photos {
		if len(photo.Data) == 0 {
			fields[fmt.Sprintf("photos[%d]", i)] = "file is empty"
			continue
		}
		if !strings.HasPrefix(http.DetectContentType(photo.Data), "image/") {
			fields[fmt.Sprintf("photos[%d]", i)] = "file is not an image"
		}
	}

	if len(fields) > 0 {
		return &models.ValidationError{Fields: fields}
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "lat":
		return "Latitude must be between -90 and 90"
	case "lng":
		return "Longitude must be between -180 and 180"
	}
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters", fe.Param())
	}
	return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
}

// storePhotos синхронно загружает файлы в хранилище. При ошибке уже загруженные файлы удаляются.
func (s *incidentService) storePhotos(ctx context.Context, incidentID uuid.UUID, photos []models.PhotoUpload) ([]*models.IncidentPhoto, error) {
	stored := make([]*models.IncidentPhoto, 0, len(photos))
	for _, photo := range photos {
		contentType := photo.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(photo.Data)
		}

		resp, err := s.storage.Upload(ctx, &storage.UploadRequest{
			Key:         photoKey(s.now(), photo.Filename),
			Reader:      bytes.NewReader(photo.Data),
			ContentType: contentType,
			Size:        int64(len(photo.Data)),
		})
		if err != nil {
			s.discardPhotos(ctx, s.logger.WithField("incident_id", incidentID), stored)
			return nil, err
		}

		stored = append(stored, &models.IncidentPhoto{
			ID:         uuid.New(),
			IncidentID: incidentID,
			StorageKey: resp.Key,
			URL:        resp.URL,
		})
	}
	return stored, nil
}

func (s *incidentService) discardPhotos(ctx context.Context, log *logrus.Entry, photos []*models.IncidentPhoto) {
	for _, photo := range photos {
		if err := s.storage.Delete(ctx, photo.StorageKey); err != nil {
			log.WithError(err).WithField("key", photo.StorageKey).Warn("Failed to delete orphaned photo")
		}
	}
}

func (s *incidentService) publish(ctx context.Context, log *logrus.Entry, event webhook.WebhookEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("event", event.Event).Warn("Failed to publish webhook event")
	}
}

// photoKey раскладывает фотографии по дням: incident_photos/2006/01/02/<uuid>.<ext>
func photoKey(now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 8 {
		ext = ""
	}
	return fmt.Sprintf("incident_photos/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}

func joinStatuses() string {
	statuses := models.Statuses()
	parts := make([]string, len(statuses))
	for i, st := range statuses {
		parts[i] = string(st)
	}
	return strings.Join(parts, ", ")
}
