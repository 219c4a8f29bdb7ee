// Package postgres holds form configurations and global settings. Endpoint
// definitions live as jsonb documents so the three endpoint shapes share
// one column without a sparse table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/webylead/leadrelay/internal/domain"
)

// Store implements the dispatcher and queue configuration sources using
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a store over the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEnabledFormConfig returns the enabled configuration for formID, or
// (nil, nil) when the form is unknown or disabled. Endpoints whose stored
// definition no longer parses are skipped with a log line so one bad
// document cannot take the whole form offline.
func (s *Store) GetEnabledFormConfig(ctx context.Context, formID string) (*domain.FormConfig, error) {
	var config domain.FormConfig
	err := s.db.QueryRowContext(ctx, queryGetEnabledForm, formID).Scan(
		&config.ID,
		&config.FormID,
		&config.Name,
		&config.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get form %s: %w", formID, err)
	}

	rows, err := s.db.QueryContext(ctx, queryGetFormEndpoints, config.ID)
	if err != nil {
		return nil, fmt.Errorf("get endpoints for %s: %w", formID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var ep domain.Endpoint
		if err := json.Unmarshal(definition, &ep); err != nil {
			log.Printf("store: skipping unparseable endpoint for form %s: %v", formID, err)
			continue
		}
		config.Endpoints = append(config.Endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ListForms returns all form configurations without their endpoints.
func (s *Store) ListForms(ctx context.Context) ([]domain.FormConfig, error) {
	rows, err := s.db.QueryContext(ctx, queryListForms)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var result []domain.FormConfig
	for rows.Next() {
		var config domain.FormConfig
		if err := rows.Scan(&config.ID, &config.FormID, &config.Name, &config.Enabled); err != nil {
			return nil, err
		}
		result = append(result, config)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetSettings returns the global settings row, or defaults when none exists.
func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var (
		settings      domain.Settings
		windowSeconds int64
		delaySeconds  int64
	)
	err := s.db.QueryRowContext(ctx, queryGetSettings).Scan(
		&settings.RateLimitEnabled,
		&settings.RateLimitMax,
		&windowSeconds,
		&settings.RetryMax,
		&delaySeconds,
		&settings.NotifyOnFailure,
		&settings.NotifyEmail,
	)
	if err == sql.ErrNoRows {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("get settings: %w", err)
	}

	settings.RateLimitWindow = time.Duration(windowSeconds) * time.Second
	settings.RetryDelay = time.Duration(delaySeconds) * time.Second
	return settings, nil
}
