package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bissquit/outreach-queue/internal/crm"
	"github.com/bissquit/outreach-queue/internal/domain"
)

// CRMRepository implements crm.Repository.
type CRMRepository struct {
	db *sql.DB
}

// GetLead retrieves a lead by ID.
func (r *CRMRepository) GetLead(ctx context.Context, leadID string) (*domain.Recipient, error) {
	var lead domain.Recipient
	err := r.db.QueryRowContext(ctx, `
SELECT id, COALESCE(email, ''), contact_name, company
FROM leads
WHERE id = ?`, leadID).Scan(&lead.LeadID, &lead.Address, &lead.ContactName, &lead.Company)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crm.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// GetOwner retrieves an owner by ID.
func (r *CRMRepository) GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.QueryRowContext(ctx, `
SELECT id, display_name, daily_limit
FROM owners
WHERE id = ?`, ownerID).Scan(&owner.ID, &owner.DisplayName, &owner.DailyLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crm.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return &owner, nil
}

// SaveOwner inserts or updates an owner.
func (r *CRMRepository) SaveOwner(ctx context.Context, owner domain.Owner) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO owners (id, display_name, daily_limit)
VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, daily_limit = excluded.daily_limit`,
		owner.ID, owner.DisplayName, owner.DailyLimit)
	if err != nil {
		return fmt.Errorf("save owner: %w", err)
	}
	return nil
}

// SaveLead inserts or updates a lead.
func (r *CRMRepository) SaveLead(ctx context.Context, ownerID string, lead domain.Recipient) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO leads (id, owner_id, email, contact_name, company)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET email = excluded.email, contact_name = excluded.contact_name, company = excluded.company`,
		lead.LeadID, ownerID, lead.Address, lead.ContactName, lead.Company)
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}
