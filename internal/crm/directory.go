// Package crm resolves leads and owner profiles from the CRM tables the
// outreach queue reads but does not own.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/outreach-queue/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Repository reads leads and owners.
type Repository interface {
	// GetLead returns the lead or ErrRecipientNotFound.
	GetLead(ctx context.Context, leadID string) (*domain.Recipient, error)
	// GetOwner returns the owner or ErrOwnerNotFound.
	GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error)
}

// Directory resolves recipients and sender profiles.
type Directory struct {
	repo            Repository
	defaultFromName string
}

// NewDirectory creates a new CRM directory. defaultFromName is used for
// owners without a display name.
func NewDirectory(repo Repository, defaultFromName string) *Directory {
	return &Directory{repo: repo, defaultFromName: defaultFromName}
}

// Resolve returns the recipient for a lead. A lead without an email address
// is reported as ErrRecipientNotFound.
func (d *Directory) Resolve(ctx context.Context, leadID string) (*domain.Recipient, error) {
	lead, err := d.repo.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}

	lead.Address = strings.TrimSpace(lead.Address)
	if lead.Address == "" {
		return nil, ErrRecipientNotFound
	}
	lead.ContactName = NormalizeName(lead.ContactName)
	lead.Company = strings.TrimSpace(lead.Company)

	return lead, nil
}

// SenderName returns the display name used in the From header.
func (d *Directory) SenderName(ctx context.Context, ownerID string) (string, error) {
	owner, err := d.repo.GetOwner(ctx, ownerID)
	if errors.Is(err, ErrOwnerNotFound) {
		return d.defaultFromName, nil
	}
	if err != nil {
		return "", fmt.Errorf("get owner: %w", err)
	}
	if name := NormalizeName(owner.DisplayName); name != "" {
		return name, nil
	}
	return d.defaultFromName, nil
}

// DailyLimit returns the owner's configured daily limit, or 0 when the owner
// is unknown or has no explicit limit.
func (d *Directory) DailyLimit(ctx context.Context, ownerID string) (int, error) {
	owner, err := d.repo.GetOwner(ctx, ownerID)
	if errors.Is(err, ErrOwnerNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get owner: %w", err)
	}
	return owner.DailyLimit, nil
}

// NormalizeName collapses whitespace and title-cases names typed entirely in
// one case ("JANE DOE", "jane doe"). Mixed-case names are kept as entered.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if name == "" {
		return ""
	}
	if name != strings.ToLower(name) && name != strings.ToUpper(name) {
		return name
	}
	return cases.Title(language.English).String(name)
}
