package v1

import (
	"strings"

	"github.com/shenikar/fire_watcher/internal/models"
)

// DTOToNewIncident преобразует DTO создания в доменную модель.
// Отсутствующие координаты проверяются до вызова.
func DTOToNewIncident(dto CreateIncidentRequest) models.NewIncident {
	input := models.NewIncident{
		Address:       strings.TrimSpace(dto.Address),
		Description:   strings.TrimSpace(dto.Description),
		ReporterName:  dto.ReporterName,
		ReporterPhone: dto.ReporterPhone,
	}
	if dto.Latitude != nil {
		input.Latitude = *dto.Latitude
	}
	if dto.Longitude != nil {
		input.Longitude = *dto.Longitude
	}
	return input
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:            model.ID,
		ReporterID:    model.ReporterID,
		ReporterName:  model.ReporterName,
		ReporterPhone: model.ReporterPhone,
		Latitude:      model.Latitude,
		Longitude:     model.Longitude,
		Address:       model.Address,
		Description:   model.Description,
		Status:        string(model.Status),
		IsActive:      model.IsActive(),
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

func ModelToIncidentDetailResponse(model *models.IncidentDetail) *IncidentDetailResponse {
	photos := make([]*PhotoResponse, len(model.Photos))
	for i, photo := range model.Photos {
		photos[i] = &PhotoResponse{ID: photo.ID, URL: photo.URL, UploadedAt: photo.UploadedAt}
	}

	return &IncidentDetailResponse{
		IncidentResponse: *ModelToIncidentResponse(&model.Incident),
		Reporter:         ModelToUserSummaryResponse(model.Reporter),
		Photos:           photos,
		StatusUpdates:    ModelsToStatusUpdateResponses(model.StatusUpdates),
	}
}

func ModelsToStatusUpdateResponses(updates []*models.StatusUpdate) []*StatusUpdateResponse {
	responses := make([]*StatusUpdateResponse, len(updates))
	for i, update := range updates {
		responses[i] = &StatusUpdateResponse{
			ID:        update.ID,
			Status:    string(update.Status),
			UpdatedBy: ModelToUserSummaryResponse(update.UpdatedBy),
			Notes:     update.Notes,
			Timestamp: update.Timestamp,
		}
	}
	return responses
}

func ModelToUserSummaryResponse(summary *models.UserSummary) *UserSummaryResponse {
	if summary == nil {
		return nil
	}
	return &UserSummaryResponse{
		ID:       summary.ID,
		Email:    summary.Email,
		Name:     summary.Name,
		UserType: string(summary.Role),
	}
}

func ModelToIncidentListResponse(page *models.IncidentPage) *IncidentListResponse {
	return &IncidentListResponse{
		Count:    page.Count,
		Page:     page.Page,
		PageSize: page.PageSize,
		Results:  ModelsToIncidentResponses(page.Results),
	}
}

func ModelToDashboardStatsResponse(stats *models.DashboardStats) *DashboardStatsResponse {
	return &DashboardStatsResponse{
		New:      stats.New,
		Active:   stats.Active,
		Resolved: stats.Resolved,
		Total:    stats.Total,
	}
}
