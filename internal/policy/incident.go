// Package policy решает, может ли участник выполнить операцию над инцидентами.
// Все функции чистые и вызываются до любой работы с хранилищем.
package policy

import (
	"github.com/google/uuid"
	"github.com/shenikar/fire_watcher/internal/models"
)

// CanCreate - сообщить об инциденте может кто угодно, включая анонимов
func CanCreate(_ *models.Principal) error {
	return nil
}

// CanList - список доступен любому аутентифицированному участнику
func CanList(actor *models.Principal) error {
	if actor == nil {
		return models.ErrAuthenticationRequired
	}
	return nil
}

// ListScope возвращает ограничение по отправителю, которое нужно наложить на выборку.
// nil означает отсутствие ограничения.
func ListScope(actor *models.Principal) *uuid.UUID {
	if actor == nil || actor.IsFireTeamOrAdmin() {
		return nil
	}
	id := actor.ID
	return &id
}

// CanView - публичный пользователь видит только свои инциденты
func CanView(actor *models.Principal, incident *models.Incident) error {
	if actor == nil {
		return models.ErrAuthenticationRequired
	}
	if actor.IsFireTeamOrAdmin() {
		return nil
	}
	if incident.ReportedBy(actor.ID) {
		return nil
	}
	return models.ErrForbidden
}

func CanUpdateStatus(actor *models.Principal) error {
	if !actor.IsFireTeamOrAdmin() {
		return models.ErrForbidden
	}
	return nil
}

func CanViewDashboard(actor *models.Principal) error {
	if !actor.IsFireTeamOrAdmin() {
		return models.ErrForbidden
	}
	return nil
}

// CanViewHistory - история статусов доступна любому аутентифицированному участнику,
// без проверки владения инцидентом.
func CanViewHistory(actor *models.Principal) error {
	if actor == nil {
		return models.ErrAuthenticationRequired
	}
	return nil
}
