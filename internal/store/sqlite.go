package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	writeMaxRetries     = 3
	writeRetryBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		last_login INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL UNIQUE,
		graph_name TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		assistant_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		starter_questions TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_updated ON agents(updated_at);
	CREATE INDEX IF NOT EXISTS idx_agents_assistant ON agents(assistant_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// execWithRetry runs a write, backing off exponentially on SQLITE_BUSY.
func (s *SQLiteStore) execWithRetry(ctx context.Context, op string, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := 0; i < writeMaxRetries; i++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == writeMaxRetries-1 {
			break
		}
		delay := writeRetryBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying write", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// --- users ---

const userColumns = `id, username, password_hash, name, role, active, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	var role string
	var lastLogin sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Name, &role,
		&user.Active, &lastLogin, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	if lastLogin.Valid {
		ts := time.UnixMilli(lastLogin.Int64)
		user.LastLogin = &ts
	}
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by exact username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	now := s.now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if !user.Role.Valid() {
		return fmt.Errorf("invalid role %q", user.Role)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
	INSERT INTO users (id, username, password_hash, name, role, active, last_login, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`
	_, err := s.execWithRetry(ctx, "create_user", query,
		user.ID, user.Username, user.PasswordHash, user.Name, string(user.Role),
		user.Active, user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if shared.IsSQLiteUniqueError(err, "users.username") {
		return fmt.Errorf("username %q already exists", user.Username)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UpdateLastLogin records a successful login.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := s.execWithRetry(ctx, "update_last_login",
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`,
		at.UnixMilli(), s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update last_login: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateUserName changes the display name of a user.
func (s *SQLiteStore) UpdateUserName(ctx context.Context, id, name string) (*domain.User, error) {
	result, err := s.execWithRetry(ctx, "update_user_name",
		`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`,
		name, s.now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("update name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// SetUserActive flips the active flag of the named user.
func (s *SQLiteStore) SetUserActive(ctx context.Context, username string, active bool) error {
	result, err := s.execWithRetry(ctx, "set_user_active",
		`UPDATE users SET active = ?, updated_at = ? WHERE username = ?`,
		active, s.now().UnixMilli(), username)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// --- agents ---

const agentColumns = `id, display_name, graph_name, category, description, assistant_id,
	active, starter_questions, created_at, updated_at`

func scanAgent(row rowScanner) (*domain.Agent, error) {
	var agent domain.Agent
	var questionsJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&agent.ID, &agent.DisplayName, &agent.GraphName, &agent.Category,
		&agent.Description, &agent.AssistantID, &agent.Active, &questionsJSON,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(questionsJSON), &agent.StarterQuestions); err != nil {
		return nil, fmt.Errorf("decode starter questions: %w", err)
	}
	if agent.StarterQuestions == nil {
		agent.StarterQuestions = []string{}
	}
	agent.CreatedAt = time.UnixMilli(createdAt)
	agent.UpdatedAt = time.UnixMilli(updatedAt)
	return &agent, nil
}

func encodeQuestions(questions []string) (string, error) {
	if questions == nil {
		questions = []string{}
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return "", fmt.Errorf("encode starter questions: %w", err)
	}
	return string(data), nil
}

func agentWhere(filter AgentFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.Active != nil {
		clauses = append(clauses, "active = ?")
		args = append(args, *filter.Active)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListAgents returns agents matching filter, most recently updated first.
func (s *SQLiteStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*domain.Agent, error) {
	where, args := agentWhere(filter)
	query := `SELECT ` + agentColumns + ` FROM agents` + where + ` ORDER BY updated_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	agents := []*domain.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// CountAgents counts agents matching filter.
func (s *SQLiteStore) CountAgents(ctx context.Context, filter AgentFilter) (int, error) {
	where, args := agentWhere(filter)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return total, nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// GetAgentByAssistantID retrieves the most recently updated agent for an assistant.
func (s *SQLiteStore) GetAgentByAssistantID(ctx context.Context, assistantID string, activeOnly bool) (*domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE assistant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY updated_at DESC, rowid DESC LIMIT 1`

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, assistantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return agent, nil
}

// CreateAgent inserts an agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	questions, err := encodeQuestions(agent.StarterQuestions)
	if err != nil {
		return err
	}
	now := s.now()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	agent.CreatedAt = now
	agent.UpdatedAt = now

	query := `
	INSERT INTO agents (` + agentColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.execWithRetry(ctx, "create_agent", query,
		agent.ID, agent.DisplayName, agent.GraphName, agent.Category,
		agent.Description, agent.AssistantID, agent.Active, questions,
		agent.CreatedAt.UnixMilli(), agent.UpdatedAt.UnixMilli(),
	)
	if shared.IsSQLiteUniqueError(err, "agents.display_name") {
		return domain.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// UpdateAgent overwrites the writable fields of an existing agent.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	questions, err := encodeQuestions(agent.StarterQuestions)
	if err != nil {
		return err
	}
	agent.UpdatedAt = s.now()

	query := `
	UPDATE agents SET
		display_name = ?, graph_name = ?, category = ?, description = ?,
		assistant_id = ?, active = ?, starter_questions = ?, updated_at = ?
	WHERE id = ?`
	result, err := s.execWithRetry(ctx, "update_agent", query,
		agent.DisplayName, agent.GraphName, agent.Category, agent.Description,
		agent.AssistantID, agent.Active, questions, agent.UpdatedAt.UnixMilli(),
		agent.ID,
	)
	if shared.IsSQLiteUniqueError(err, "agents.display_name") {
		return domain.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAgent permanently removes an agent.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	result, err := s.execWithRetry(ctx, "delete_agent", `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ToggleAgentActive flips the active flag in one statement so the read
// deciding the flip and the write cannot interleave with another toggle.
func (s *SQLiteStore) ToggleAgentActive(ctx context.Context, id string) (*domain.Agent, error) {
	query := `UPDATE agents SET active = NOT active, updated_at = ? WHERE id = ? RETURNING ` + agentColumns
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, s.now().UnixMilli(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle agent: %w", err)
	}
	return agent, nil
}

// Ensure SQLiteStore implements Repository.
var _ Repository = (*SQLiteStore)(nil)
