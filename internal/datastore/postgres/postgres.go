// Package postgres implements datastore.DataManager on top of Postgres:
// a pgxpool connection pool and a goose migration runner. It exists to
// give jackc/pgx and pressly/goose a concrete home in this repository;
// the in-memory datastore.Memory is what the default deployment uses,
// and no test here runs against a live Postgres.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/datastore/postgres/migrations"
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/passwordauth"
)

const codeUniqueViolation = "23505"

// isUniqueViolation reports whether err represents a Postgres unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// gooseLogger adapts zerolog to goose.Logger.
type gooseLogger struct{ log zerolog.Logger }

func (g gooseLogger) Fatalf(format string, v ...any) { g.log.Error().Msgf(format, v...) }
func (g gooseLogger) Printf(format string, v ...any) { g.log.Info().Msgf(format, v...) }

// Connect creates a pgxpool.Pool from dsn with the given connection limits.
func Connect(ctx context.Context, dsn string, maxConns, minConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.MinConns = int32(minConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Migrate runs all pending goose migrations using the embedded SQL files.
func Migrate(dsn string, logger zerolog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Store implements datastore.DataManager against a pgxpool.Pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) AddNewUser(ctx context.Context, userID identity.UserID, passwordHash, salt []byte) error {
	_, err := s.pool.Exec(ctx,
		`insert into user_credentials (user_id, password_hash, password_salt) values ($1, $2, $3)`,
		int64(userID), passwordHash, salt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("datastore: user %d already has a stored credential", userID)
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *Store) ChangePassword(ctx context.Context, userID identity.UserID, newHash, newSalt []byte) error {
	tag, err := s.pool.Exec(ctx,
		`update user_credentials set password_hash = $2, password_salt = $3 where user_id = $1`,
		int64(userID), newHash, newSalt)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("datastore: user %d has no stored credential", userID)
	}
	return nil
}

func (s *Store) VerifyPassword(ctx context.Context, userID identity.UserID, password string) (bool, error) {
	var hash, salt []byte
	err := s.pool.QueryRow(ctx,
		`select password_hash, password_salt from user_credentials where user_id = $1`,
		int64(userID)).Scan(&hash, &salt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("datastore: user %d has no stored credential", userID)
		}
		return false, fmt.Errorf("query credential: %w", err)
	}
	return passwordauth.Verify(password, salt, hash), nil
}
