// Package unsubscribe issues and verifies signed one-click unsubscribe
// links for campaign mail. The link token is an HMAC over the
// contact/campaign pair; verification is constant-time and the secret
// never leaves the process.
package unsubscribe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// ErrBadLink means the id or hash failed verification. Handlers must not
// reveal which part was wrong.
var ErrBadLink = errors.New("unsubscribe link is invalid")

// ContactStore reads and flips contact subscription state.
type ContactStore interface {
	Contact(ctx context.Context, id string) (*domain.Contact, error)
	SetSubscribed(ctx context.Context, id string, subscribed bool, reason *domain.UnsubscribeReason) error
}

// Suppressor maintains the team suppression list.
type Suppressor interface {
	Add(ctx context.Context, teamID int64, email string, reason domain.SuppressionReason, source string) error
	Remove(ctx context.Context, teamID int64, email string) error
}

// Service builds and verifies unsubscribe links and applies their effects.
type Service struct {
	secret   []byte
	baseURL  string
	contacts ContactStore
	supp     Suppressor
}

// NewService creates the unsubscribe service. baseURL is the public host
// serving the unsubscribe endpoints.
func NewService(secret, baseURL string, contacts ContactStore, supp Suppressor) *Service {
	return &Service{
		secret:   []byte(secret),
		baseURL:  baseURL,
		contacts: contacts,
		supp:     supp,
	}
}

// token derives the link hash for a contact/campaign pair.
func (s *Service) token(contactID, campaignID string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s-%s", contactID, campaignID)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented hash in constant time.
func (s *Service) Verify(contactID, campaignID, hash string) bool {
	expected := s.token(contactID, campaignID)
	return hmac.Equal([]byte(expected), []byte(hash))
}

// URL builds the signed unsubscribe URL embedded in campaign mail.
func (s *Service) URL(contactID, campaignID string) string {
	q := url.Values{}
	q.Set("id", contactID+"-"+campaignID)
	q.Set("hash", s.token(contactID, campaignID))
	return s.baseURL + "/unsubscribe?" + q.Encode()
}

// Headers returns the List-Unsubscribe headers for one-click mail clients.
func (s *Service) Headers(contactID, campaignID string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      "<" + s.URL(contactID, campaignID) + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

// Unsubscribe verifies the link and flips the contact to unsubscribed,
// adding the address to the team's suppression list. Idempotent: repeated
// clicks on the same link succeed.
func (s *Service) Unsubscribe(ctx context.Context, contactID, campaignID, hash string) error {
	if !s.Verify(contactID, campaignID, hash) {
		return ErrBadLink
	}

	contact, err := s.contacts.Contact(ctx, contactID)
	if err != nil {
		// A verified link for a missing contact also reads as invalid;
		// the caller gets no oracle about contact existence.
		logger.Warn("unsubscribe for unknown contact", "contact_id", contactID)
		return ErrBadLink
	}

	reason := domain.UnsubscribedByLink
	if err := s.contacts.SetSubscribed(ctx, contact.ID, false, &reason); err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}
	if err := s.supp.Add(ctx, contact.TeamID, contact.Email, domain.ReasonUnsubscribe, "unsubscribe-link"); err != nil {
		return fmt.Errorf("suppress contact: %w", err)
	}

	logger.Info("contact unsubscribed", "contact_id", contact.ID, "campaign_id", campaignID)
	return nil
}

// Resubscribe verifies the link, restores the subscription and clears the
// suppression entry.
func (s *Service) Resubscribe(ctx context.Context, contactID, campaignID, hash string) error {
	if !s.Verify(contactID, campaignID, hash) {
		return ErrBadLink
	}

	contact, err := s.contacts.Contact(ctx, contactID)
	if err != nil {
		return ErrBadLink
	}

	if err := s.contacts.SetSubscribed(ctx, contact.ID, true, nil); err != nil {
		return fmt.Errorf("resubscribe contact: %w", err)
	}
	if err := s.supp.Remove(ctx, contact.TeamID, contact.Email); err != nil {
		return fmt.Errorf("unsuppress contact: %w", err)
	}

	logger.Info("contact resubscribed", "contact_id", contact.ID)
	return nil
}

// SplitID splits the composite link id back into contact and campaign ids.
// The campaign id is everything after the last dash in the contact UUID's
// tail, so splitting happens on the known UUID length instead.
func SplitID(id string) (contactID, campaignID string, err error) {
	// Contact ids are UUIDs: fixed 36 bytes, then a dash, then campaign.
	const uuidLen = 36
	if len(id) < uuidLen+2 || id[uuidLen] != '-' {
		return "", "", ErrBadLink
	}
	return id[:uuidLen], id[uuidLen+1:], nil
}
