package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/fire_watcher/internal/models"
)

const (
	webhookQueueKey = "webhook_events"
)

const (
	EventIncidentCreated       = "incident.created"
	EventIncidentStatusChanged = "incident.status_changed"
)

// WebhookEvent - событие жизненного цикла инцидента для внешних систем
type WebhookEvent struct {
	Event          string        `json:"event"`
	IncidentID     uuid.UUID     `json:"incident_id"`
	Status         models.Status `json:"status"`
	PreviousStatus models.Status `json:"previous_status,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	UpdatedBy      *uuid.UUID    `json:"updated_by,omitempty"`
	Latitude       float64       `json:"lat"`
	Longitude      float64       `json:"lng"`
	Address        string        `json:"address"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewIncidentEvent собирает событие из текущего состояния инцидента
func NewIncidentEvent(event string, incident *models.Incident) WebhookEvent {
	return WebhookEvent{
		Event:      event,
		IncidentID: incident.ID,
		Status:     incident.Status,
		Latitude:   incident.Latitude,
		Longitude:  incident.Longitude,
		Address:    incident.Address,
		Timestamp:  incident.UpdatedAt,
	}
}

// WebhookPublisher - интерфейс для публикации вебхуков
type WebhookPublisher interface {
	Publish(ctx context.Context, event WebhookEvent) error
}

// RedisWebhookPublisher - реализация WebhookPublisher, использующая Redis
type RedisWebhookPublisher struct {
	redisClient *redis.Client
}

// NewRedisWebhookPublisher создает новый RedisWebhookPublisher
func NewRedisWebhookPublisher(client *redis.Client) *RedisWebhookPublisher {
	return &RedisWebhookPublisher{
		redisClient: client,
	}
}

// Publish публикует событие вебхука в очередь Redis
func (p *RedisWebhookPublisher) Publish(ctx context.Context, event WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	// LPUSH в голову списка, воркер забирает с хвоста через BRPOP
	if err := p.redisClient.LPush(ctx, webhookQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish webhook event to Redis: %w", err)
	}
	return nil
}
