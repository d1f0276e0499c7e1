// Package store persists users, custom agents and usage records in Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/analyst/config"
	"github.com/mohammad-safakhou/analyst/internal/agents"
	"github.com/mohammad-safakhou/analyst/internal/usage"
)

type Store struct {
	DB *sql.DB
}

// BuildDSN constructs a Postgres DSN from the application configuration,
// falling back to DATABASE_URL.
func BuildDSN(cfg config.PostgresConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	if cfg.Host == "" || cfg.DBName == "" {
		if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
			return dsn, nil
		}
		return "", fmt.Errorf("postgres configuration incomplete: host/dbname required")
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, cfg.Host, port, cfg.DBName, ssl), nil
}

// New opens and pings the database described by cfg.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	pgErr, ok := err.(*pq.Error)
	return ok && pgErr.Code == "23505"
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Custom agent operations

// ListCustomAgents implements agents.CustomSource.
func (s *Store) ListCustomAgents(ctx context.Context, userID string) ([]agents.CustomAgent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, description, prompt, inputs FROM custom_agents WHERE user_id=$1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []agents.CustomAgent
	for rows.Next() {
		var ca agents.CustomAgent
		var inputs pq.StringArray
		if err := rows.Scan(&ca.ID, &ca.UserID, &ca.Name, &ca.Description, &ca.Prompt, &inputs); err != nil {
			return nil, err
		}
		ca.Inputs = []string(inputs)
		out = append(out, ca)
	}
	return out, rows.Err()
}

func (s *Store) CreateCustomAgent(ctx context.Context, ca agents.CustomAgent) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO custom_agents (user_id, name, description, prompt, inputs) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		ca.UserID, ca.Name, ca.Description, ca.Prompt, pq.StringArray(ca.Inputs)).Scan(&id)
	return id, err
}

func (s *Store) DeleteCustomAgent(ctx context.Context, userID, name string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM custom_agents WHERE user_id=$1 AND name=$2`, userID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Usage operations

// SaveUsage implements usage.Sink.
func (s *Store) SaveUsage(ctx context.Context, rec usage.Record) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_records (
			user_id, chat_id, model_name, provider,
			prompt_tokens, completion_tokens, total_tokens,
			query_size, response_size, cost, request_time_ms, is_streaming, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		nullIfEmpty(rec.UserID), rec.ChatID, rec.ModelName, rec.Provider,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.QuerySize, rec.ResponseSize, rec.Cost, rec.RequestTimeMS, rec.IsStreaming, rec.CreatedAt)
	return err
}

// UsageTotals summarises spend for one user.
type UsageTotals struct {
	Requests    int64   `json:"requests"`
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

func (s *Store) UsageTotalsForUser(ctx context.Context, userID string) (UsageTotals, error) {
	var t UsageTotals
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total_tokens),0), COALESCE(SUM(cost),0)
		FROM usage_records WHERE user_id=$1`, userID).
		Scan(&t.Requests, &t.TotalTokens, &t.TotalCost)
	return t, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
