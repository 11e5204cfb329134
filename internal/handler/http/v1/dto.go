package v1

import (
	"time"

	"github.com/google/uuid"
)

// CreateIncidentRequest DTO для создания инцидента. Принимается как JSON или multipart-форма с файлами photos.
// @Description DTO для создания инцидента
type CreateIncidentRequest struct {
	Latitude      *float64 `json:"lat" form:"lat" validate:"required"`
	Longitude     *float64 `json:"lng" form:"lng" validate:"required"`
	Address       string   `json:"address" form:"address"`
	Description   string   `json:"description" form:"description"`
	ReporterName  *string  `json:"reporter_name,omitempty" form:"reporter_name"`
	ReporterPhone *string  `json:"reporter_phone,omitempty" form:"reporter_phone"`
}

// UpdateStatusRequest DTO для смены статуса инцидента
// @Description DTO для смены статуса инцидента
type UpdateStatusRequest struct {
	Status string `json:"status" example:"enroute"`
	Notes  string `json:"notes,omitempty"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID            uuid.UUID  `json:"id"`
	ReporterID    *uuid.UUID `json:"reporter_id,omitempty"`
	ReporterName  string     `json:"reporter_name"`
	ReporterPhone string     `json:"reporter_phone"`
	Latitude      float64    `json:"lat"`
	Longitude     float64    `json:"lng"`
	Address       string     `json:"address"`
	Description   string     `json:"description"`
	Status        string     `json:"status"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IncidentDetailResponse DTO инцидента с отправителем, фотографиями и историей
// @Description DTO инцидента с отправителем, фотографиями и историей
type IncidentDetailResponse struct {
	IncidentResponse
	Reporter      *UserSummaryResponse    `json:"reporter,omitempty"`
	Photos        []*PhotoResponse        `json:"photos"`
	StatusUpdates []*StatusUpdateResponse `json:"status_updates"`
}

type UserSummaryResponse struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	UserType string    `json:"user_type"`
}

type PhotoResponse struct {
	ID         uuid.UUID `json:"id"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StatusUpdateResponse DTO записи истории статусов
// @Description DTO записи истории статусов
type StatusUpdateResponse struct {
	ID        uuid.UUID            `json:"id"`
	Status    string               `json:"status"`
	UpdatedBy *UserSummaryResponse `json:"updated_by"`
	Notes     string               `json:"notes"`
	Timestamp time.Time            `json:"timestamp"`
}

// IncidentListResponse DTO страницы списка инцидентов
// @Description DTO страницы списка инцидентов
type IncidentListResponse struct {
	Count    int                 `json:"count"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Results  []*IncidentResponse `json:"results"`
}

// DashboardStatsResponse DTO для ответа со статистикой
// @Description DTO для ответа со статистикой
type DashboardStatsResponse struct {
	New      int `json:"new"`
	Active   int `json:"active"`
	Resolved int `json:"resolved"`
	Total    int `json:"total"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error" example:"validation failed"`
	Fields map[string]string `json:"fields"`
}
