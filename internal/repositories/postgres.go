package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/streamify/backend/internal/db"
	"github.com/streamify/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const userColumns = `id, email, password_hash, full_name, bio, profile_pic, native_language,
        learning_language, location, is_onboarded, created_at, updated_at`

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, user.ID, user.Email, user.Password, user.FullName, user.Bio, user.ProfilePic, user.NativeLanguage,
		user.LearningLanguage, user.Location, user.IsOnboarded, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByEmail fetches a user by their email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID fetches a user by identifier.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, value)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// FindByIDs fetches every user whose id is listed. Unknown ids are skipped.
func (r *PostgresUserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+userColumns+`
        FROM users
        WHERE id = ANY($1)
        ORDER BY full_name, id
    `, ids)
	if err != nil {
		return nil, fmt.Errorf("query users by id: %w", err)
	}

	return collectUsers(rows)
}

// ListRecommended returns onboarded users that are neither the viewer nor one of their friends.
func (r *PostgresUserRepository) ListRecommended(ctx context.Context, userID string, limit int) ([]models.User, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+userColumns+`
        FROM users u
        WHERE u.id <> $1
          AND u.is_onboarded
          AND NOT EXISTS (
              SELECT 1 FROM friendships f
              WHERE f.user_id = $1 AND f.friend_id = u.id
          )
        ORDER BY u.created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recommended users: %w", err)
	}

	return collectUsers(rows)
}

// Update modifies an existing user record.
func (r *PostgresUserRepository) Update(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET email = $2, password_hash = $3, full_name = $4, bio = $5, profile_pic = $6,
            native_language = $7, learning_language = $8, location = $9, is_onboarded = $10,
            updated_at = $11
        WHERE id = $1
    `, user.ID, user.Email, user.Password, user.FullName, user.Bio, user.ProfilePic,
		user.NativeLanguage, user.LearningLanguage, user.Location, user.IsOnboarded, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("update user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.FullName, &user.Bio, &user.ProfilePic,
		&user.NativeLanguage, &user.LearningLanguage, &user.Location, &user.IsOnboarded,
		&user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friend requests.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

// CreateRequest persists a new friend request. A second request for the same
// unordered pair fails with ErrConflict.
func (r *PostgresFriendRepository) CreateRequest(ctx context.Context, request models.FriendRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO friend_requests (id, sender_id, recipient_id, status, created_at, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, request.ID, request.SenderID, request.RecipientID, request.Status, request.CreatedAt, request.RespondedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return ErrConflict
			case pgForeignKeyViolation:
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert friend request: %w", err)
	}

	return nil
}

// FindRequestBetween returns the request linking the two users in either direction.
func (r *PostgresFriendRepository) FindRequestBetween(ctx context.Context, userA, userB string) (models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE (sender_id = $1 AND recipient_id = $2)
           OR (sender_id = $2 AND recipient_id = $1)
        LIMIT 1
    `, userA, userB)

	request, err := scanFriendRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("select friend request: %w", err)
	}

	return request, nil
}

// ListRequests returns friend requests matching the filter, newest first.
func (r *PostgresFriendRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var (
		conditions []string
		args       []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("sender_id", filter.SenderID)
	add("recipient_id", filter.RecipientID)
	add("status", filter.Status)

	query := `SELECT id, sender_id, recipient_id, status, created_at, responded_at FROM friend_requests`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		request, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}

	return requests, nil
}

// AcceptRequest marks a pending request accepted and records the friendship
// in both directions within a single transaction.
func (r *PostgresFriendRepository) AcceptRequest(ctx context.Context, requestID, actingUserID string, at time.Time) (models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("begin accept transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
        SELECT id, sender_id, recipient_id, status, created_at, responded_at
        FROM friend_requests
        WHERE id = $1
        FOR UPDATE
    `, requestID)

	request, err := scanFriendRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, fmt.Errorf("select friend request: %w", err)
	}

	if request.RecipientID != actingUserID {
		return models.FriendRequest{}, ErrForbidden
	}
	if request.Status != models.FriendStatusPending {
		return models.FriendRequest{}, ErrInvalidState
	}

	at = at.UTC()
	if _, err := tx.Exec(ctx, `
        UPDATE friend_requests
        SET status = $2, responded_at = $3
        WHERE id = $1
    `, requestID, models.FriendStatusAccepted, at); err != nil {
		return models.FriendRequest{}, fmt.Errorf("update friend request: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO friendships (user_id, friend_id, created_at)
        VALUES ($1, $2, $3), ($2, $1, $3)
        ON CONFLICT (user_id, friend_id) DO NOTHING
    `, request.SenderID, request.RecipientID, at); err != nil {
		return models.FriendRequest{}, fmt.Errorf("insert friendships: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.FriendRequest{}, fmt.Errorf("commit accept transaction: %w", err)
	}

	request.Status = models.FriendStatusAccepted
	request.RespondedAt = &at
	return request, nil
}

// ListFriendIDs returns the identifiers of every account befriended by userID.
func (r *PostgresFriendRepository) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT friend_id
        FROM friendships
        WHERE user_id = $1
        ORDER BY created_at
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friendship: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friendships: %w", err)
	}

	return ids, nil
}

func scanFriendRequest(row pgx.Row) (models.FriendRequest, error) {
	var (
		request     models.FriendRequest
		respondedAt sql.NullTime
	)
	if err := row.Scan(&request.ID, &request.SenderID, &request.RecipientID, &request.Status, &request.CreatedAt, &respondedAt); err != nil {
		return models.FriendRequest{}, err
	}
	request.CreatedAt = request.CreatedAt.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		request.RespondedAt = &t
	}
	return request, nil
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ FriendRepository = (*PostgresFriendRepository)(nil)
