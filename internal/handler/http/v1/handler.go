package v1

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/config"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/shenikar/fire_watcher/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	incidentService service.IncidentService
	tokens          TokenParser
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(incidentService service.IncidentService, tokens TokenParser, logger *logrus.Logger, cfg *config.Config) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return &Handler{
		incidentService: incidentService,
		tokens:          tokens,
		logger:          logger,
		validate:        validate,
		cfg:             cfg,
	}
}

// @Summary Report a new incident
// @Description Report a fire incident. Anonymous reports are allowed. Photos are sent as multipart files named "photos".
// @Tags Incidents
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param incident body CreateIncidentRequest true "Incident creation request"
// @Success 201 {object} IncidentDetailResponse
// @Failure 400 {object} ValidationErrorResponse "Invalid request body or validation error"
// @Failure 401 {object} ErrorResponse "Invalid token"
// @Failure 413 {object} ErrorResponse "Request body too large"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxRequestSize())
	if err := c.ShouldBind(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.WithField("limit", tooLarge.Limit).Warn("Request body too large")
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("request body is larger than %d MB", h.cfg.MaxRequestSizeMB)})
			return
		}
		log.WithError(err).Warn("Failed to bind request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		h.respondError(c, log, validationError(err))
		return
	}

	photos, err := h.readPhotos(c)
	if err != nil {
		log.WithError(err).Warn("Failed to read photos")
		h.respondError(c, log, err)
		return
	}

	detail, err := h.incidentService.CreateIncident(c.Request.Context(), principalFrom(c), DTOToNewIncident(input), photos)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentDetailResponse(detail))
}

// @Summary Get a list of incidents
// @Description Paginated list of incidents. Public users only see their own reports.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param search query string false "Search in address, description and reporter name"
// @Param ordering query string false "created_at, updated_at or status, prefix with - for descending" default(-created_at)
// @Param page query int false "Page number" default(1)
// @Success 200 {object} IncidentListResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	query := models.IncidentQuery{
		Status:   c.Query("status"),
		Search:   c.Query("search"),
		Ordering: c.Query("ordering"),
		Page:     page,
	}

	result, err := h.incidentService.ListIncidents(c.Request.Context(), principalFrom(c), query)
	if err != nil {
		h.respondError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, ModelToIncidentListResponse(result))
}

// @Summary Get incident by ID
// @Description Get a single incident with photos and status history.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentDetailResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	detail, err := h.incidentService.GetIncident(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentDetailResponse(detail))
}

// @Summary Update incident status
// @Description Move an incident to a new status. Fire team and admins only.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param status body UpdateStatusRequest true "New status"
// @Success 200 {object} IncidentDetailResponse
// @Failure 400 {object} ValidationErrorResponse "Invalid incident ID, request body or status"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents/{id}/status [patch]
func (h *Handler) updateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "updateStatus").WithField("id", id)

	var input UpdateStatusRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	detail, err := h.incidentService.UpdateStatus(c.Request.Context(), principalFrom(c), id, models.Status(input.Status), input.Notes)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentDetailResponse(detail))
}

// @Summary Get incident status history
// @Description Status updates of an incident, most recent first.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {array} StatusUpdateResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents/{id}/updates [get]
func (h *Handler) listStatusUpdates(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "listStatusUpdates").WithField("id", id)

	updates, err := h.incidentService.GetStatusHistory(c.Request.Context(), principalFrom(c), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToStatusUpdateResponses(updates))
}

// @Summary Get dashboard statistics
// @Description Incident counts by status group. Fire team and admins only.
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Security ApiKeyAuth
// @Success 200 {object} DashboardStatsResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/stats [get]
func (h *Handler) dashboardStats(c *gin.Context) {
	log := h.logger.WithField("method", "dashboardStats")

	stats, err := h.incidentService.DashboardStats(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.respondError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, ModelToDashboardStatsResponse(stats))
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError переводит доменные ошибки в HTTP-ответ
func (h *Handler) respondError(c *gin.Context, log *logrus.Entry, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, models.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
	case errors.Is(err, models.ErrForbidden):
		log.WithError(err).Warn("Access denied")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	case errors.Is(err, models.ErrNotFound):
		log.WithError(err).Warn("Incident not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "incident not found"})
	default:
		log.WithError(err).Error("Request failed in service")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// readPhotos читает файлы photos из multipart-формы. Для JSON-запросов фотографий нет.
func (h *Handler) readPhotos(c *gin.Context) ([]models.PhotoUpload, error) {
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("photos", "invalid multipart form")
	}

	files := form.File["photos"]
	photos := make([]models.PhotoUpload, 0, len(files))
	for i, file := range files {
		field := fmt.Sprintf("photos[%d]", i)
		if file.Size > h.cfg.MaxUploadSize() {
			return nil, models.NewValidationError(field, fmt.Sprintf("file is larger than %d MB", h.cfg.MaxUploadSizeMB))
		}

		data, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read uploaded file %s: %w", file.Filename, err)
		}

		photos = append(photos, models.PhotoUpload{
			Filename:    file.Filename,
			ContentType: file.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return photos, nil
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// validationError переводит ошибки validator в ValidationError с именами полей API
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "This field is required"
	}
	return &models.ValidationError{Fields: fields}
}
