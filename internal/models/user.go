package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePublic   Role = "public"
	RoleFireTeam Role = "fire_team"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePublic || r == RoleFireTeam || r == RoleAdmin
}

// Principal - участник, выполняющий операцию. Анонимный участник представлен nil.
type Principal struct {
	ID    uuid.UUID
	Role  Role
	Email string
	Name  string
}

// IsFireTeamOrAdmin - может ли участник управлять инцидентами
func (p *Principal) IsFireTeamOrAdmin() bool {
	return p != nil && (p.Role == RoleFireTeam || p.Role == RoleAdmin)
}

// IsService - участник аутентифицирован API-ключом и не связан с учетной записью
func (p *Principal) IsService() bool {
	return p != nil && p.ID == uuid.Nil
}

// ActorID возвращает ссылку на пользователя для записи в бд, nil для анонимов и сервисов
func (p *Principal) ActorID() *uuid.UUID {
	if p == nil || p.IsService() {
		return nil
	}
	id := p.ID
	return &id
}

// User - учетная запись, которой управляет сервис аккаунтов. Здесь только читается.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Role        Role      `json:"user_type"`
	BadgeNumber string    `json:"badge_number,omitempty"`
	FireStation string    `json:"fire_station,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserSummary - краткие данные пользователя для вложения в ответы
type UserSummary struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  Role      `json:"user_type"`
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}
