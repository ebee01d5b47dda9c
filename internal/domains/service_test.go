package domains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/limiter"
	"github.com/ignite/dispatch/internal/region"
	"github.com/ignite/dispatch/internal/ses"
)

type memDomainRepo struct {
	nextID  int64
	domains map[int64]*domain.SendingDomain
}

func newMemDomainRepo() *memDomainRepo {
	return &memDomainRepo{nextID: 1, domains: make(map[int64]*domain.SendingDomain)}
}

func (r *memDomainRepo) Create(ctx context.Context, d *domain.SendingDomain) error {
	d.ID = r.nextID
	r.nextID++
	cp := *d
	r.domains[d.ID] = &cp
	return nil
}

func (r *memDomainRepo) ByID(ctx context.Context, id int64) (*domain.SendingDomain, error) {
	d, ok := r.domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDomainRepo) ByName(ctx context.Context, teamID int64, name string) (*domain.SendingDomain, error) {
	for _, d := range r.domains {
		if d.TeamID == teamID && d.Name == name {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memDomainRepo) ListByTeam(ctx context.Context, teamID int64) ([]domain.SendingDomain, error) {
	var out []domain.SendingDomain
	for _, d := range r.domains {
		if d.TeamID == teamID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memDomainRepo) UpdateTracking(ctx context.Context, teamID, id int64, clickTracking, openTracking bool) error {
	d, ok := r.domains[id]
	if !ok || d.TeamID != teamID {
		return ErrNotFound
	}
	d.ClickTracking = clickTracking
	d.OpenTracking = openTracking
	return nil
}

func (r *memDomainRepo) UpdateVerification(ctx context.Context, id int64, status domain.DomainStatus, dkimStatus string) error {
	d, ok := r.domains[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.DKIMStatus = dkimStatus
	return nil
}

func (r *memDomainRepo) Delete(ctx context.Context, teamID, id int64) error {
	d, ok := r.domains[id]
	if !ok || d.TeamID != teamID {
		return ErrNotFound
	}
	delete(r.domains, id)
	return nil
}

type stubIdentity struct {
	tokens  []string
	status  *ses.IdentityStatus
	deleted []string
}

func (s *stubIdentity) CreateIdentity(ctx context.Context, region, name string) ([]string, error) {
	return s.tokens, nil
}

func (s *stubIdentity) GetIdentityStatus(ctx context.Context, region, name string) (*ses.IdentityStatus, error) {
	return s.status, nil
}

func (s *stubIdentity) DeleteIdentity(ctx context.Context, region, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

type stubGuard struct{ denied bool }

func (s *stubGuard) CheckDomainLimit(ctx context.Context, teamID int64) (limiter.Reservation, error) {
	if s.denied {
		return limiter.Reservation{Outcome: limiter.Denied, LimitReason: domain.LimitDomain, Limit: 1}, nil
	}
	return limiter.Reservation{Outcome: limiter.Grant}, nil
}

type staticRegionRepo struct{ settings []domain.RegionSetting }

func (s *staticRegionRepo) All(ctx context.Context) ([]domain.RegionSetting, error) {
	return s.settings, nil
}

func (s *staticRegionRepo) Upsert(ctx context.Context, setting *domain.RegionSetting) error {
	return nil
}

func newFixture(t *testing.T) (*Service, *memDomainRepo, *stubIdentity, *stubGuard) {
	t.Helper()

	repo := newMemDomainRepo()
	identity := &stubIdentity{
		tokens: []string{"tok1", "tok2", "tok3"},
		status: &ses.IdentityStatus{Verified: false, DKIMStatus: "PENDING"},
	}
	guard := &stubGuard{}

	registry, err := region.NewRegistry(context.Background(), &staticRegionRepo{
		settings: []domain.RegionSetting{{Region: "us-east-1", SendRate: 10}},
	})
	require.NoError(t, err)

	return NewService(repo, identity, guard, registry), repo, identity, guard
}

func TestCreateRegistersPendingDomain(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	d, err := svc.Create(context.Background(), 1, "Mail.Example.COM ", "us-east-1")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.com", d.Name)
	assert.Equal(t, domain.DomainPending, d.Status)
	assert.Equal(t, []string{"tok1", "tok2", "tok3"}, d.DKIMTokens)
}

func TestCreateRejectsBadNames(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	for _, name := range []string{"", "not a domain", "nodot", "-bad.com", "bad-.com"} {
		_, err := svc.Create(context.Background(), 1, name, "us-east-1")
		assert.ErrorIs(t, err, ErrBadName, "name %q", name)
	}
}

func TestCreateRejectsUnknownRegion(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	_, err := svc.Create(context.Background(), 1, "example.com", "mars-central-1")
	assert.ErrorIs(t, err, region.ErrUnknownRegion)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, "example.com", "us-east-1")
	require.NoError(t, err)

	_, err = svc.Create(ctx, 1, "example.com", "us-east-1")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreatePlanLimit(t *testing.T) {
	svc, _, _, guard := newFixture(t)
	guard.denied = true

	_, err := svc.Create(context.Background(), 1, "example.com", "us-east-1")
	assert.ErrorIs(t, err, ErrPlanLimit)
}

func TestRecordsIncludeDKIMAndSPF(t *testing.T) {
	svc, _, _, _ := newFixture(t)

	d, err := svc.Create(context.Background(), 1, "example.com", "us-east-1")
	require.NoError(t, err)

	records := svc.Records(d)
	require.Len(t, records, 4)
	assert.Equal(t, "CNAME", records[0].Type)
	assert.Equal(t, "tok1._domainkey.example.com", records[0].Name)
	assert.Equal(t, "tok1.dkim.amazonses.com", records[0].Value)
	assert.Equal(t, "TXT", records[3].Type)
}

func TestVerifyTransitionsToSuccess(t *testing.T) {
	svc, repo, identity, _ := newFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, "example.com", "us-east-1")
	require.NoError(t, err)

	identity.status = &ses.IdentityStatus{Verified: true, DKIMStatus: "SUCCESS"}

	verified, err := svc.Verify(ctx, 1, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainSuccess, verified.Status)

	stored, err := repo.ByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainSuccess, stored.Status)
}

func TestVerifyMapsFailure(t *testing.T) {
	svc, _, identity, _ := newFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, "example.com", "us-east-1")
	require.NoError(t, err)

	identity.status = &ses.IdentityStatus{Verified: false, DKIMStatus: "FAILED"}

	verified, err := svc.Verify(ctx, 1, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DomainFailed, verified.Status)
}

func TestGetScopesToTeam(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, "example.com", "us-east-1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesProviderIdentity(t *testing.T) {
	svc, repo, identity, _ := newFixture(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, 1, "example.com", "us-east-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 1, d.ID))
	assert.Equal(t, []string{"example.com"}, identity.deleted)

	_, err = repo.ByID(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
