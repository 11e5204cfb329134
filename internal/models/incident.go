package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status - статус инцидента. Строковые значения являются частью API и не должны меняться.
type Status string

const (
	StatusNew          Status = "new"
	StatusEnroute      Status = "enroute"
	StatusArrived      Status = "arrived"
	StatusFighting     Status = "fighting"
	StatusExtinguished Status = "extinguished"
	StatusClosed       Status = "closed"
)

// Statuses возвращает все допустимые статусы в порядке жизненного цикла
func Statuses() []Status {
	return []Status{
		StatusNew,
		StatusEnroute,
		StatusArrived,
		StatusFighting,
		StatusExtinguished,
		StatusClosed,
	}
}

// Valid проверяет, что статус входит в фиксированный набор
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusEnroute, StatusArrived, StatusFighting, StatusExtinguished, StatusClosed:
		return true
	}
	return false
}

// InitialStatusNotes - заметка первой записи истории, создаваемой вместе с инцидентом
const InitialStatusNotes = "Incident reported"

// AnonymousReporterName используется, если имя не передано и отправитель не аутентифицирован
const AnonymousReporterName = "Anonymous"

type Incident struct {
	ID            uuid.UUID  `json:"id"`
	ReporterID    *uuid.UUID `json:"reporter_id,omitempty"`
	ReporterName  string     `json:"reporter_name"`
	ReporterPhone string     `json:"reporter_phone"`
	Latitude      float64    `json:"lat"`
	Longitude     float64    `json:"lng"`
	Address       string     `json:"address"`
	Description   string     `json:"description"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsActive - инцидент еще не потушен и не закрыт
func (i *Incident) IsActive() bool {
	return i.Status != StatusExtinguished && i.Status != StatusClosed
}

// ReportedBy проверяет, что инцидент создан указанным пользователем
func (i *Incident) ReportedBy(userID uuid.UUID) bool {
	return i.ReporterID != nil && *i.ReporterID == userID
}

// StatusUpdate - неизменяемая запись истории смены статуса
type StatusUpdate struct {
	ID          uuid.UUID    `json:"id"`
	IncidentID  uuid.UUID    `json:"incident_id"`
	Status      Status       `json:"status"`
	UpdatedByID *uuid.UUID   `json:"updated_by_id,omitempty"`
	UpdatedBy   *UserSummary `json:"updated_by,omitempty"`
	Notes       string       `json:"notes"`
	Timestamp   time.Time    `json:"timestamp"`
}

// IncidentPhoto - фотография, приложенная к инциденту
type IncidentPhoto struct {
	ID         uuid.UUID `json:"id"`
	IncidentID uuid.UUID `json:"incident_id"`
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// IncidentDetail - инцидент вместе с отправителем, фотографиями и историей статусов
type IncidentDetail struct {
	Incident
	Reporter      *UserSummary     `json:"reporter,omitempty"`
	Photos        []*IncidentPhoto `json:"photos"`
	StatusUpdates []*StatusUpdate  `json:"status_updates"`
}

// Consistent сообщает, что текущий статус совпадает с последней записью истории
func (d *IncidentDetail) Consistent() bool {
	return len(d.StatusUpdates) > 0 && d.StatusUpdates[0].Status == d.Status
}

// NewIncident - входные данные для создания инцидента
type NewIncident struct {
	Latitude      float64 `json:"lat" validate:"min=-90,max=90"`
	Longitude     float64 `json:"lng" validate:"min=-180,max=180"`
	Address       string  `json:"address" validate:"required"`
	Description   string  `json:"description" validate:"required"`
	ReporterName  *string `json:"reporter_name" validate:"omitempty,max=255"`
	ReporterPhone *string `json:"reporter_phone" validate:"omitempty,max=20"`
}

// PhotoUpload - сырой файл, который нужно передать в хранилище
type PhotoUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IncidentQuery - параметры списка инцидентов, как их передал клиент
type IncidentQuery struct {
	Status   string
	Search   string
	Ordering string
	Page     int
}

// DefaultOrdering - порядок выдачи списка по умолчанию, новые сверху
const DefaultOrdering = "-created_at"

// ValidOrdering проверяет поле сортировки, префикс "-" означает убывание
func ValidOrdering(ordering string) bool {
	switch strings.TrimPrefix(ordering, "-") {
	case "created_at", "updated_at", "status":
		return true
	}
	return false
}

// IncidentFilter - параметры выборки инцидентов для репозитория
type IncidentFilter struct {
	ReporterID *uuid.UUID
	Status     Status
	Search     string
	Ordering   string
	Limit      int
	Offset     int
}

// IncidentPage - страница результатов списка инцидентов
type IncidentPage struct {
	Count    int         `json:"count"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Results  []*Incident `json:"results"`
}

// DashboardStats - сводка по статусам для панели пожарной команды
type DashboardStats struct {
	New      int `json:"new"`
	Active   int `json:"active"`
	Resolved int `json:"resolved"`
	Total    int `json:"total"`
}
