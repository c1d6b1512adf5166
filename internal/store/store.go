// Package store provides the durable persistence layer for the connection
// hub: chat log, session registry, job records and the pairing-token table,
// backed by PostgreSQL (database/sql + github.com/lib/pq).
//
// Config is validated before use (prevents SQL injection through
// connection-string fields); the pool is tuned to 25 max open / 5 max idle
// / 5 min max lifetime connections; tables are created with
// CREATE-TABLE-IF-NOT-EXISTS migrations run from Store.Migrate().
package store

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Store wraps a PostgreSQL connection pool. It provides no cross-entity
// transactions: every write op is
// single-row or a single small transaction
type Store struct {
	db *sql.DB
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// New opens a connection pool and verifies connectivity.
func New(config Config) (*Store, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	return &Store{db: db}, nil
}

// NewForTesting wraps an existing *sql.DB (e.g. sqlmock) for unit tests.
func NewForTesting(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool for callers (e.g. media blob
// bookkeeping) that need raw access outside the typed operations below.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the persisted tables if they don't already exist.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255),
			display_name VARCHAR(255),
			auth_provider VARCHAR(50) DEFAULT 'local',
			firebase_uid VARCHAR(255),
			settings_json JSONB DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pairing_tokens (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token VARCHAR(255) UNIQUE NOT NULL,
			label VARCHAR(255),
			last_connected_at TIMESTAMP,
			last_ip VARCHAR(64),
			connection_count INT DEFAULT 0,
			revoked_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pairing_tokens_token ON pairing_tokens(token)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			openclaw_agent_id VARCHAR(255)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(255) PRIMARY KEY,
			channel_id VARCHAR(255) NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			session_key VARCHAR(255) UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(255) PRIMARY KEY,
			session_key VARCHAR(255) NOT NULL,
			sender VARCHAR(16) NOT NULL,
			text TEXT,
			media_url TEXT,
			a2ui TEXT,
			thread_id VARCHAR(255),
			encrypted BOOLEAN DEFAULT false,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_key, timestamp, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(255) PRIMARY KEY,
			channel_id VARCHAR(255) NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			openclaw_cron_job_id VARCHAR(255),
			session_key VARCHAR(255),
			enabled BOOLEAN DEFAULT true,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(255) PRIMARY KEY,
			task_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			session_key VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			duration_ms BIGINT,
			summary TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_task_started ON jobs(task_id, started_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	logger.Database().Info().Int("statements", len(migrations)).Msg("store schema migrated")
	return nil
}
