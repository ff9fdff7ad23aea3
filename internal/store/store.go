package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetEventByID retrieves an event regardless of its status
func (s *Store) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := s.db.GetContext(ctx, &event, "SELECT * FROM events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListActiveEvents retrieves events that are still on sale
func (s *Store) ListActiveEvents(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM events WHERE status = $1 ORDER BY created_at DESC", models.EventStatusActive)
	return events, err
}

// ListEventIDs retrieves every event id, retired ones included
func (s *Store) ListEventIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM events ORDER BY id")
	return ids, err
}

// GetAvailableTickets reads the authoritative unsold count
func (s *Store) GetAvailableTickets(ctx context.Context, eventID string) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT available_tickets FROM events WHERE id = $1", eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	return available, err
}

// TryDecrementTickets removes quantity tickets in a single conditional update.
// No row is touched when fewer than quantity tickets remain.
func (s *Store) TryDecrementTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	var remaining int
	err := s.db.GetContext(ctx, &remaining, `
		UPDATE events
		SET available_tickets = available_tickets - $1, updated_at = NOW()
		WHERE id = $2 AND available_tickets >= $1
		RETURNING available_tickets`,
		quantity, eventID)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to decrement tickets: %w", err)
	}

	available, err := s.GetAvailableTickets(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return 0, &models.InsufficientInventoryError{EventID: eventID, Available: available, Requested: quantity}
}

// DrainTickets sets the unsold count to zero and returns how many were removed
func (s *Store) DrainTickets(ctx context.Context, eventID string) (int, error) {
	var drained int
	err := s.db.GetContext(ctx, &drained, `
		WITH prev AS (SELECT available_tickets FROM events WHERE id = $1 FOR UPDATE)
		UPDATE events SET available_tickets = 0, updated_at = NOW()
		FROM prev WHERE events.id = $1
		RETURNING prev.available_tickets`,
		eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", models.ErrEventNotFound, eventID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to drain tickets: %w", err)
	}
	return drained, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
