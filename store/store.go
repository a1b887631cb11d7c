// Package store is the shared persistence handle attached to every request
// context. It wraps a database/sql pool for the mysql and postgres drivers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"authz-rpc/session"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Config describes how to open the pool.
type Config struct {
	Driver   string
	DSN      string
	PoolSize int
}

// Store is goroutine-safe and lives for the whole process.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open opens the connection pool. It does not dial the database; the first
// query does.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	if cfg.Driver != DriverMySQL && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	dsn, err := driverDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	return New(db, cfg.Driver), nil
}

// driverDSN normalizes dsn for driver. MySQL DATETIME columns only scan into
// time.Time with parseTime enabled, so it is always forced on.
func driverDSN(driver, dsn string) (string, error) {
	if driver != DriverMySQL {
		return dsn, nil
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("store: mysql dsn: %w", err)
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// New wraps an already opened pool.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver, now: time.Now}
}

// DB exposes the underlying pool to handlers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

const lookupSessionQuery = `SELECT u.id, u.name, u.email, u.image, u.address, s.expires
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.session_token = $1`

// LookupSession resolves a database session by its token. A missing or
// expired session yields a nil session and no error; driver failures are
// returned as is.
func (s *Store) LookupSession(ctx context.Context, token string) (*session.Session, error) {
	var (
		user    session.User
		name    sql.NullString
		email   sql.NullString
		image   sql.NullString
		addr    sql.NullString
		expires time.Time
	)
	row := s.db.QueryRowContext(ctx, s.rebind(lookupSessionQuery), token)
	err := row.Scan(&user.ID, &name, &email, &image, &addr, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup session: %w", err)
	}
	user.Name, user.Email, user.Image, user.Address = name.String, email.String, image.String, addr.String
	user.AddressSet = addr.Valid

	sess := &session.Session{User: &user, Expires: expires}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// Account is the stored row for an account address.
type Account struct {
	Address   string
	UserID    string
	CreatedAt time.Time
}

const accountByAddressQuery = `SELECT address, user_id, created_at FROM accounts WHERE address = $1`

// AccountByAddress loads the account row for addr.
func (s *Store) AccountByAddress(ctx context.Context, addr string) (*Account, error) {
	var acc Account
	err := s.db.QueryRowContext(ctx, s.rebind(accountByAddressQuery), addr).
		Scan(&acc.Address, &acc.UserID, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: account by address: %w", err)
	}
	return &acc, nil
}

// rebind rewrites $n placeholders to ? for mysql.
func (s *Store) rebind(query string) string {
	if s.driver != DriverMySQL {
		return query
	}
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' {
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				if _, err := strconv.Atoi(query[i+1 : j]); err == nil {
					b.WriteByte('?')
					i = j - 1
					continue
				}
			}
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
