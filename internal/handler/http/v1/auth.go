package v1

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shenikar/fire_watcher/internal/models"
)

const principalKey = "principal"

// dispatchServiceName - имя сервисного участника, аутентифицированного по API-ключу
const dispatchServiceName = "dispatch"

// TokenParser проверяет bearer-токен и возвращает участника
type TokenParser interface {
	Parse(token string) (*models.Principal, error)
}

// authenticate определяет участника запроса. Запрос без учетных данных проходит как анонимный,
// а неверный токен или ключ сразу отклоняется с 401.
func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := h.logger.WithField("path", c.FullPath())

		if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
			if !h.validAPIKey(apiKey) {
				log.Warn("Invalid API key provided")
				c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid API key"})
				return
			}
			c.Set(principalKey, &models.Principal{Role: models.RoleAdmin, Name: dispatchServiceName})
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Warn("Malformed Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header"})
			return
		}

		principal, err := h.tokens.Parse(token)
		if err != nil {
			log.WithError(err).Warn("Invalid bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or expired token"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// requireAuth отклоняет анонимные запросы
func (h *Handler) requireAuth(c *gin.Context) {
	if principalFrom(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}
	c.Next()
}

func (h *Handler) validAPIKey(apiKey string) bool {
	for _, key := range h.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return true
		}
	}
	return false
}

// principalFrom возвращает участника запроса, nil для анонимных
func principalFrom(c *gin.Context) *models.Principal {
	value, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}
