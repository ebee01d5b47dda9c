// Package domains manages sending identities: registration with the
// provider, DNS record guidance, verification polling, and tracking
// configuration.
package domains

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/ses"
)

// Sentinel errors for domain management.
var (
	ErrNotFound  = errors.New("domain not found")
	ErrDuplicate = errors.New("domain already registered")
	ErrBadName   = errors.New("not a valid domain name")
	ErrPlanLimit = errors.New("plan domain limit reached")
)

var domainNameRe = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// Repository is the durable store for sending domains.
type Repository interface {
	Create(ctx context.Context, d *domain.SendingDomain) error
	ByID(ctx context.Context, id int64) (*domain.SendingDomain, error)
	ByName(ctx context.Context, teamID int64, name string) (*domain.SendingDomain, error)
	ListByTeam(ctx context.Context, teamID int64) ([]domain.SendingDomain, error)
	UpdateTracking(ctx context.Context, teamID, id int64, clickTracking, openTracking bool) error
	UpdateVerification(ctx context.Context, id int64, status domain.DomainStatus, dkimStatus string) error
	Delete(ctx context.Context, teamID, id int64) error
}

// IdentityProvider is the provider-side identity lifecycle, implemented by
// the SES sender.
type IdentityProvider interface {
	CreateIdentity(ctx context.Context, region, name string) ([]string, error)
	GetIdentityStatus(ctx context.Context, region, name string) (*ses.IdentityStatus, error)
	DeleteIdentity(ctx context.Context, region, name string) error
}

// PlanGuard enforces the per-plan domain cap.
type PlanGuard interface {
	CheckDomainLimit(ctx context.Context, teamID int64) (limiter.Reservation, error)
}

// DNSRecord is one record the customer must publish.
type DNSRecord struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Service manages sending domains.
type Service struct {
	repo     Repository
	identity IdentityProvider
	guard    PlanGuard
	registry *region.Registry
}

// NewService creates the domain service.
func NewService(repo Repository, identity IdentityProvider, guard PlanGuard, registry *region.Registry) *Service {
	return &Service{repo: repo, identity: identity, guard: guard, registry: registry}
}

// Create registers a new sending domain: plan limit first, then the
// provider identity, then the row in PENDING state.
func (s *Service) Create(ctx context.Context, teamID int64, name, regionCode string) (*domain.SendingDomain, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !domainNameRe.MatchString(name) {
		return nil, ErrBadName
	}
	if _, err := s.registry.GetSetting(regionCode); err != nil {
		return nil, err
	}

	existing, err := s.repo.ByName(ctx, teamID, name)
	if err != nil {
		return nil, fmt.Errorf("check existing domain: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicate
	}

	res, err := s.guard.CheckDomainLimit(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if res.Outcome == limiter.Denied {
		return nil, ErrPlanLimit
	}

	tokens, err := s.identity.CreateIdentity(ctx, regionCode, name)
	if err != nil {
		return nil, fmt.Errorf("register identity: %w", err)
	}

	now := time.Now().UTC()
	d := &domain.SendingDomain{
		TeamID:     teamID,
		Name:       name,
		Region:     regionCode,
		Status:     domain.DomainPending,
		DKIMTokens: tokens,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("store domain: %w", err)
	}

	logger.Info("sending domain registered", "team_id", teamID, "domain", name, "region", regionCode)
	return d, nil
}

// Get returns one domain scoped to the team.
func (s *Service) Get(ctx context.Context, teamID, id int64) (*domain.SendingDomain, error) {
	d, err := s.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TeamID != teamID {
		return nil, ErrNotFound
	}
	return d, nil
}

// List returns the team's domains.
func (s *Service) List(ctx context.Context, teamID int64) ([]domain.SendingDomain, error) {
	return s.repo.ListByTeam(ctx, teamID)
}

// Records lists the DNS records the customer must publish for a domain.
func (s *Service) Records(d *domain.SendingDomain) []DNSRecord {
	records := make([]DNSRecord, 0, len(d.DKIMTokens)+1)
	for _, token := range d.DKIMTokens {
		records = append(records, DNSRecord{
			Type:  "CNAME",
			Name:  fmt.Sprintf("%s._domainkey.%s", token, d.Name),
			Value: fmt.Sprintf("%s.dkim.amazonses.com", token),
		})
	}
	records = append(records, DNSRecord{
		Type:  "TXT",
		Name:  d.Name,
		Value: "v=spf1 include:amazonses.com ~all",
	})
	return records
}

// Verify polls the provider for verification state and persists the
// mapped status. Dispatch only accepts domains once this reaches SUCCESS.
func (s *Service) Verify(ctx context.Context, teamID, id int64) (*domain.SendingDomain, error) {
	d, err := s.Get(ctx, teamID, id)
	if err != nil {
		return nil, err
	}

	st, err := s.identity.GetIdentityStatus(ctx, d.Region, d.Name)
	if err != nil {
		return nil, fmt.Errorf("poll identity: %w", err)
	}

	status := mapStatus(st)
	if err := s.repo.UpdateVerification(ctx, d.ID, status, st.DKIMStatus); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}

	d.Status = status
	d.DKIMStatus = st.DKIMStatus
	if status != domain.DomainSuccess {
		logger.Info("domain verification pending", "domain", d.Name, "status", string(status))
	}
	return d, nil
}

// UpdateTracking toggles open/click tracking, which selects the provider
// configuration set at dispatch time.
func (s *Service) UpdateTracking(ctx context.Context, teamID, id int64, clickTracking, openTracking bool) error {
	return s.repo.UpdateTracking(ctx, teamID, id, clickTracking, openTracking)
}

// Delete removes the domain here and at the provider.
func (s *Service) Delete(ctx context.Context, teamID, id int64) error {
	d, err := s.Get(ctx, teamID, id)
	if err != nil {
		return err
	}
	if err := s.identity.DeleteIdentity(ctx, d.Region, d.Name); err != nil {
		logger.Warn("delete provider identity", "domain", d.Name, "error", err.Error())
	}
	return s.repo.Delete(ctx, teamID, id)
}

func mapStatus(st *ses.IdentityStatus) domain.DomainStatus {
	if st.Verified {
		return domain.DomainSuccess
	}
	switch st.DKIMStatus {
	case "FAILED":
		return domain.DomainFailed
	case "TEMPORARY_FAILURE":
		return domain.DomainTemporaryFailure
	case "NOT_STARTED":
		return domain.DomainNotStarted
	default:
		return domain.DomainPending
	}
}
