package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/oklog/ulid/v2"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	project_id       TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	summary_markdown TEXT NOT NULL DEFAULT '',
	summary_html     TEXT NOT NULL DEFAULT '',
	summarized_at    BIGINT,
	created_at       BIGINT NOT NULL,
	updated_at       BIGINT NOT NULL
)`

const userIndex = `CREATE INDEX IF NOT EXISTS idx_memory_sessions_user ON memory_sessions (user_id, created_at)`

const selectColumns = `id, user_id, project_id, title, summary_markdown, summary_html, summarized_at, created_at, updated_at`

// SQLRepository implements Repository on database/sql for sqlite3 and postgres
type SQLRepository struct {
	db     *sql.DB
	driver string
	logger logging.Logger

	mu      sync.Mutex
	entropy *rand.Rand
	now     func() time.Time
}

// Open connects to the configured database and creates the schema
func Open(ctx context.Context, cfg config.SessionsConfig) (*SQLRepository, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite3" && strings.Contains(cfg.DSN, ":memory:") {
		// every sqlite connection to :memory: is a separate database, and
		// recycling the only one drops it
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetimeMinutes > 0 {
			db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
		}
	}

	repo := NewSQLRepository(db, cfg.Driver)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wraps an open database; call Migrate before use
func NewSQLRepository(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{
		db:      db,
		driver:  driver,
		logger:  logging.WithComponent("sessions"),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // ulid entropy
		now:     time.Now,
	}
}

// Migrate creates the sessions table if missing
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, userIndex} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sessions: %w", err)
		}
	}
	return nil
}

func (r *SQLRepository) newID(t time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

// rebind rewrites ? placeholders to $n for postgres
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Create assigns an id and timestamps when absent and inserts the session
func (r *SQLRepository) Create(ctx context.Context, s *Session) error {
	if s.UserID == "" {
		return fmt.Errorf("session requires a user id")
	}
	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = s.CreatedAt
	if s.ID == "" {
		s.ID = r.newID(s.CreatedAt)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO memory_sessions (id, user_id, project_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		s.ID, s.UserID, s.ProjectID, s.Title, s.CreatedAt.UnixMilli(), s.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	r.logger.Debug("session created", "session_id", s.ID, "user_id", s.UserID)
	return nil
}

// Get loads a session by id
func (r *SQLRepository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM memory_sessions WHERE id = ?`), id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListByUser returns the newest sessions of a user first
func (r *SQLRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT `+selectColumns+` FROM memory_sessions
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveSummary stores a rendered summary and returns the updated session
func (r *SQLRepository) SaveSummary(ctx context.Context, id, markdown, html string) (*Session, error) {
	now := r.now().UTC().UnixMilli()
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE memory_sessions
		SET summary_markdown = ?, summary_html = ?, summarized_at = ?, updated_at = ?
		WHERE id = ?`), markdown, html, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s            Session
		summarizedAt sql.NullInt64
		created      int64
		updated      int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.ProjectID, &s.Title, &s.SummaryMarkdown, &s.SummaryHTML,
		&summarizedAt, &created, &updated); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(created).UTC()
	s.UpdatedAt = time.UnixMilli(updated).UTC()
	if summarizedAt.Valid {
		t := time.UnixMilli(summarizedAt.Int64).UTC()
		s.SummarizedAt = &t
	}
	return &s, nil
}
