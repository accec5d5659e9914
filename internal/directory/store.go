package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-auth/gatehouse/internal/platform/db"
	"github.com/gatehouse-auth/gatehouse/internal/shared"
)

// Store implements Directory using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL directory.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ Directory = (*Store)(nil)

const userColumns = `id, email, password_hash, active, confirmed_at, auth_token, remember_token,
	last_login_at, current_login_at, last_login_ip, current_login_ip, login_count,
	created_at, updated_at`

// FindUserByID fetches a user and its role set by primary key.
func (s *Store) FindUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return s.scanUser(ctx, row)
}

// FindUserByEmail fetches a user and its role set by email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return s.scanUser(ctx, row)
}

// FindRoleByName fetches a role by name.
func (s *Store) FindRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// SaveUser inserts or updates the user record and reconciles its role set.
// The row and the role links commit in a single transaction.
func (s *Store) SaveUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if user.ID == 0 {
			err := tx.QueryRow(ctx, `
				INSERT INTO users (email, password_hash, active, confirmed_at, auth_token, remember_token,
					last_login_at, current_login_at, last_login_ip, current_login_ip, login_count,
					created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
				RETURNING id`,
				user.Email, user.PasswordHash, user.Active,
				nullTime(user.ConfirmedAt),
				nullText(user.AuthToken), nullText(user.RememberToken),
				nullTime(user.LastLoginAt), nullTime(user.CurrentLoginAt),
				nullText(user.LastLoginIP), nullText(user.CurrentLoginIP),
				nullInt(user.LoginCount),
				pgtype.Timestamptz{Time: now, Valid: true},
			).Scan(&user.ID)
			if err != nil {
				return mapSaveErr(err)
			}
			user.CreatedAt = now
			user.UpdatedAt = now
			return s.saveRoles(ctx, tx, user)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET email = $2, password_hash = $3, active = $4,
				confirmed_at = $5, auth_token = $6, remember_token = $7,
				last_login_at = $8, current_login_at = $9,
				last_login_ip = $10, current_login_ip = $11, login_count = $12,
				updated_at = $13
			WHERE id = $1`,
			user.ID, user.Email, user.PasswordHash, user.Active,
			nullTime(user.ConfirmedAt),
			nullText(user.AuthToken), nullText(user.RememberToken),
			nullTime(user.LastLoginAt), nullTime(user.CurrentLoginAt),
			nullText(user.LastLoginIP), nullText(user.CurrentLoginIP),
			nullInt(user.LoginCount),
			pgtype.Timestamptz{Time: now, Valid: true},
		)
		if err != nil {
			return mapSaveErr(err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		user.UpdatedAt = now
		return s.saveRoles(ctx, tx, user)
	})
}

// SaveRole inserts or updates a role.
func (s *Store) SaveRole(ctx context.Context, role *Role) error {
	if role.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id`,
			role.Name, role.Description,
		).Scan(&role.ID)
		return mapSaveErr(err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE roles SET name = $2, description = $3 WHERE id = $1`,
		role.ID, role.Name, role.Description,
	)
	if err != nil {
		return mapSaveErr(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) scanUser(ctx context.Context, row pgx.Row) (*User, error) {
	var (
		user          User
		confirmedAt   pgtype.Timestamptz
		authToken     pgtype.Text
		rememberToken pgtype.Text
		lastLoginAt   pgtype.Timestamptz
		currLoginAt   pgtype.Timestamptz
		lastLoginIP   pgtype.Text
		currLoginIP   pgtype.Text
		loginCount    pgtype.Int8
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
	)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Active,
		&confirmedAt, &authToken, &rememberToken, &lastLoginAt, &currLoginAt,
		&lastLoginIP, &currLoginIP, &loginCount, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}

	user.AuthToken = authToken.String
	user.RememberToken = rememberToken.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		user.ConfirmedAt = &t
	}
	user.LastLoginIP = lastLoginIP.String
	user.CurrentLoginIP = currLoginIP.String
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		user.LastLoginAt = &t
	}
	if currLoginAt.Valid {
		t := currLoginAt.Time
		user.CurrentLoginAt = &t
	}
	if loginCount.Valid {
		n := loginCount.Int64
		user.LoginCount = &n
	}
	user.CreatedAt = createdAt.Time
	user.UpdatedAt = updatedAt.Time

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.description
		FROM roles r JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 ORDER BY r.name`, user.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, err
		}
		user.Roles = append(user.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) saveRoles(ctx context.Context, tx pgx.Tx, user *User) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, user.ID); err != nil {
		return err
	}
	for _, role := range user.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			user.ID, role.ID,
		); err != nil {
			return err
		}
	}
	return nil
}

func mapSaveErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}

func nullText(v string) pgtype.Text {
	return pgtype.Text{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) pgtype.Timestamptz {
	if v == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: v.UTC(), Valid: true}
}

func nullInt(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}
