// Package postgres provides PostgreSQL implementation of the CRM repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/outreach-queue/internal/crm"
	"github.com/bissquit/outreach-queue/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements crm.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL CRM repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetLead retrieves a lead by ID.
func (r *Repository) GetLead(ctx context.Context, leadID string) (*domain.Recipient, error) {
	query := `
		SELECT id, COALESCE(email, ''), COALESCE(contact_name, ''), COALESCE(company, '')
		FROM leads
		WHERE id = $1
	`
	var lead domain.Recipient
	err := r.db.QueryRow(ctx, query, leadID).Scan(&lead.LeadID, &lead.Address, &lead.ContactName, &lead.Company)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crm.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// GetOwner retrieves an owner by ID.
func (r *Repository) GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error) {
	query := `
		SELECT id, COALESCE(display_name, ''), COALESCE(daily_limit, 0)
		FROM owners
		WHERE id = $1
	`
	var owner domain.Owner
	err := r.db.QueryRow(ctx, query, ownerID).Scan(&owner.ID, &owner.DisplayName, &owner.DailyLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crm.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &owner, nil
}
