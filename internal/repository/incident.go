package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/fire_watcher/internal/models"
	"github.com/shenikar/fire_watcher/internal/service"
)

const incidentColumns = `
			id,
			reporter_id,
			reporter_name,
			reporter_phone,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			address,
			description,
			status,
			created_at,
			updated_at`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

// CreateWithInitialUpdate сохраняет инцидент, первую запись истории и фотографии в одной транзакции
func (r *IncidentRepository) CreateWithInitialUpdate(ctx context.Context, incident *models.Incident, update *models.StatusUpdate, photos []*models.IncidentPhoto) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO incidents (id, reporter_id, reporter_name, reporter_phone, location, address, description, status)
			VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7, $8, $9)
			RETURNING created_at, updated_at;
		`
		err := tx.QueryRow(ctx, query,
			incident.ID,
			incident.ReporterID,
			incident.ReporterName,
			incident.ReporterPhone,
			incident.Longitude,
			incident.Latitude,
			incident.Address,
			incident.Description,
			incident.Status,
		).Scan(&incident.CreatedAt, &incident.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}

		update.Timestamp = incident.CreatedAt
		if err := insertStatusUpdate(ctx, tx, update); err != nil {
			return err
		}

		for _, photo := range photos {
			query := `
				INSERT INTO incident_photos (id, incident_id, storage_key, url)
				VALUES ($1, $2, $3, $4) RETURNING uploaded_at;
			`
			err := tx.QueryRow(ctx, query, photo.ID, incident.ID, photo.StorageKey, photo.URL).Scan(&photo.UploadedAt)
			if err != nil {
				return fmt.Errorf("failed to save incident photo: %w", err)
			}
		}
		return nil
	})
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	return getIncident(ctx, r.db, id)
}

// GetDetail читает инцидент, отправителя, фотографии и историю из одного снимка базы
func (r *IncidentRepository) GetDetail(ctx context.Context, id uuid.UUID) (*models.IncidentDetail, error) {
	var detail *models.IncidentDetail
	err := pgx.BeginTxFunc(ctx, r.db, snapshotTx, func(tx pgx.Tx) error {
		incident, err := getIncident(ctx, tx, id)
		if err != nil {
			return err
		}
		reporter, err := getUserSummary(ctx, tx, incident.ReporterID)
		if err != nil {
			return err
		}
		photos, err := listPhotos(ctx, tx, id)
		if err != nil {
			return err
		}
		updates, err := listStatusUpdates(ctx, tx, id)
		if err != nil {
			return err
		}

		detail = &models.IncidentDetail{
			Incident:      *incident,
			Reporter:      reporter,
			Photos:        photos,
			StatusUpdates: updates,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// UpdateStatus меняет статус и дописывает историю в одной транзакции.
// Время берется после захвата блокировки строки, поэтому порядок записей истории совпадает с порядком коммитов.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, update *models.StatusUpdate) (*models.Incident, error) {
	var incident *models.Incident
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE incidents SET
				status = $1,
				updated_at = clock_timestamp()
			WHERE id = $2
			RETURNING ` + incidentColumns + `;
		`
		var err error
		incident, err = scanIncident(tx.QueryRow(ctx, query, update.Status, id))
		if err != nil {
			// Проверка, была ли обновлена хоть одна строка
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("incident with id %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to update incident status: %w", err)
		}

		update.IncidentID = id
		update.Timestamp = incident.UpdatedAt
		return insertStatusUpdate(ctx, tx, update)
	})
	if err != nil {
		return nil, err
	}
	return incident, nil
}

// ListIncidents возвращает страницу инцидентов и общее количество подходящих под фильтр
func (r *IncidentRepository) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error) {
	where, args := buildListFilter(filter)

	var (
		incidents []*models.Incident
		total     int
	)
	// счетчик и страница читаются из одного снимка
	err := pgx.BeginTxFunc(ctx, r.db, snapshotTx, func(tx pgx.Tx) error {
		countQuery := `SELECT COUNT(*) FROM incidents` + where
		if err := tx.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
			return fmt.Errorf("failed to count incidents: %w", err)
		}

		query := fmt.Sprintf(`SELECT %s
			FROM incidents%s
			ORDER BY %s
			LIMIT $%d OFFSET $%d;`,
			incidentColumns, where, orderClause(filter.Ordering), len(args)+1, len(args)+2)
		pageArgs := append(args, filter.Limit, filter.Offset)

		rows, err := tx.Query(ctx, query, pageArgs...)
		if err != nil {
			return fmt.Errorf("failed to list incidents: %w", err)
		}
		defer rows.Close()

		incidents = make([]*models.Incident, 0)
		for rows.Next() {
			incident, err := scanIncident(rows)
			if err != nil {
				return fmt.Errorf("failed to scan incident row: %w", err)
			}
			incidents = append(incidents, incident)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error list iteration: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

// ListStatusUpdates возвращает историю статусов инцидента, новые записи первыми.
// Для неизвестного инцидента возвращается пустой список.
func (r *IncidentRepository) ListStatusUpdates(ctx context.Context, incidentID uuid.UUID) ([]*models.StatusUpdate, error) {
	return listStatusUpdates(ctx, r.db, incidentID)
}

// querier - общее у пула и транзакции
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func getIncident(ctx context.Context, q querier, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE id = $1;
	`
	incident, err := scanIncident(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// getUserSummary возвращает nil, если отправителя нет или учетная запись удалена
func getUserSummary(ctx context.Context, q querier, id *uuid.UUID) (*models.UserSummary, error) {
	if id == nil {
		return nil, nil
	}
	user := &models.UserSummary{}
	err := q.QueryRow(ctx, `SELECT id, email, name, user_type FROM users WHERE id = $1;`, *id).
		Scan(&user.ID, &user.Email, &user.Name, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reporter: %w", err)
	}
	return user, nil
}

func listStatusUpdates(ctx context.Context, q querier, incidentID uuid.UUID) ([]*models.StatusUpdate, error) {
	query := `
		SELECT
			su.id,
			su.incident_id,
			su.status,
			su.updated_by,
			su.notes,
			su.timestamp,
			u.email,
			u.name,
			u.user_type
		FROM status_updates su
		LEFT JOIN users u ON u.id = su.updated_by
		WHERE su.incident_id = $1
		ORDER BY su.timestamp DESC, su.id DESC;
	`
	rows, err := q.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status updates: %w", err)
	}
	defer rows.Close()

	updates := make([]*models.StatusUpdate, 0)
	for rows.Next() {
		var (
			update            models.StatusUpdate
			email, name, role *string
		)
		err := rows.Scan(
			&update.ID,
			&update.IncidentID,
			&update.Status,
			&update.UpdatedByID,
			&update.Notes,
			&update.Timestamp,
			&email,
			&name,
			&role,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status update row: %w", err)
		}
		if update.UpdatedByID != nil && email != nil {
			update.UpdatedBy = &models.UserSummary{
				ID:    *update.UpdatedByID,
				Email: *email,
				Name:  deref(name),
				Role:  models.Role(deref(role)),
			}
		}
		updates = append(updates, &update)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error status update iteration: %w", err)
	}
	return updates, nil
}

// listPhotos возвращает фотографии инцидента, последние загруженные первыми
func listPhotos(ctx context.Context, q querier, incidentID uuid.UUID) ([]*models.IncidentPhoto, error) {
	query := `
		SELECT id, incident_id, storage_key, url, uploaded_at
		FROM incident_photos
		WHERE incident_id = $1
		ORDER BY uploaded_at DESC, id DESC;
	`
	rows, err := q.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incident photos: %w", err)
	}
	defer rows.Close()

	photos := make([]*models.IncidentPhoto, 0)
	for rows.Next() {
		photo := &models.IncidentPhoto{}
		if err := rows.Scan(&photo.ID, &photo.IncidentID, &photo.StorageKey, &photo.URL, &photo.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incident photo row: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error photo iteration: %w", err)
	}
	return photos, nil
}

// CountByStatus возвращает количество инцидентов по каждому статусу
func (r *IncidentRepository) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var (
			status models.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error status count iteration: %w", err)
	}
	return counts, nil
}

// setIfNewer пишет запись кеша, только если в кеше нет версии новее.
// Версия - updated_at инцидента в микросекундах.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.IncidentDetail, error) {
	val, err := r.redisClient.HGet(ctx, incidentCacheKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	detail := &models.IncidentDetail{}
	if err := json.Unmarshal(val, detail); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return detail, nil
}

// SetIncidentCache сохраняет инцидент в Redis. Запись старше уже закешированной отбрасывается,
// поэтому чтение, начатое до смены статуса, не перезапишет новое состояние.
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, detail *models.IncidentDetail) error {
	val, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	err = setIfNewer.Run(ctx, r.redisClient,
		[]string{incidentCacheKey(detail.ID)},
		detail.UpdatedAt.UnixMicro(), val, r.cacheTTL.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	if err := r.redisClient.Del(ctx, incidentCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

func insertStatusUpdate(ctx context.Context, tx pgx.Tx, update *models.StatusUpdate) error {
	query := `
		INSERT INTO status_updates (id, incident_id, status, updated_by, notes, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := tx.Exec(ctx, query,
		update.ID,
		update.IncidentID,
		update.Status,
		update.UpdatedByID,
		update.Notes,
		update.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save status update: %w", err)
	}
	return nil
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.ReporterID,
		&incident.ReporterName,
		&incident.ReporterPhone,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Address,
		&incident.Description,
		&incident.Status,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

// buildListFilter собирает WHERE и аргументы для выборки инцидентов
func buildListFilter(filter models.IncidentFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if filter.ReporterID != nil {
		args = append(args, *filter.ReporterID)
		conditions = append(conditions, fmt.Sprintf("reporter_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(address ILIKE $%d OR description ILIKE $%d OR reporter_name ILIKE $%d)", n, n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike экранирует спецсимволы шаблона LIKE, чтобы поиск был по подстроке
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// orderClause переводит параметр ordering в ORDER BY, неизвестные значения дают сортировку по умолчанию
func orderClause(ordering string) string {
	if !models.ValidOrdering(ordering) {
		ordering = models.DefaultOrdering
	}
	direction := "ASC"
	if strings.HasPrefix(ordering, "-") {
		direction = "DESC"
	}
	column := strings.TrimPrefix(ordering, "-")
	return fmt.Sprintf("%s %s, id %s", column, direction, direction)
}

func incidentCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s", id.String())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
