package limiter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/region"
)

type stubRegionRepo struct {
	settings []domain.RegionSetting
}

func (s *stubRegionRepo) All(ctx context.Context) ([]domain.RegionSetting, error) {
	return s.settings, nil
}

func (s *stubRegionRepo) Upsert(ctx context.Context, setting *domain.RegionSetting) error {
	return nil
}

type stubUsage struct {
	period int64
	today  int64
}

func (s *stubUsage) SentCounts(ctx context.Context, teamID int64) (int64, int64, error) {
	return s.period, s.today, nil
}

type stubTeams struct {
	plan         domain.Plan
	domains      int
	contactBooks int
	members      int
}

func (s *stubTeams) Team(ctx context.Context, teamID int64) (domain.Team, error) {
	return domain.Team{ID: teamID, Plan: s.plan}, nil
}

func (s *stubTeams) DomainCount(ctx context.Context, teamID int64) (int, error) {
	return s.domains, nil
}

func (s *stubTeams) ContactBookCount(ctx context.Context, teamID int64) (int, error) {
	return s.contactBooks, nil
}

func (s *stubTeams) TeamMemberCount(ctx context.Context, teamID int64) (int, error) {
	return s.members, nil
}

func newTestService(t *testing.T, sendRate, quotaPct int, usage *stubUsage, teams *stubTeams) *Service {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo := &stubRegionRepo{settings: []domain.RegionSetting{{
		Region:                    "us-east-1",
		SendRate:                  sendRate,
		TransactionalQuotaPercent: quotaPct,
	}}}
	reg, err := region.NewRegistry(context.Background(), repo)
	require.NoError(t, err)

	return NewService(rdb, reg, usage, teams)
}

func TestReserveGrantsWithinRate(t *testing.T) {
	svc := newTestService(t, 10, 80, &stubUsage{}, &stubTeams{plan: domain.PlanBasic})

	res, err := svc.Reserve(context.Background(), "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Grant, res.Outcome)
}

func TestReserveDefersWhenBucketExhausted(t *testing.T) {
	svc := newTestService(t, 3, 0, &stubUsage{}, &stubTeams{plan: domain.PlanBasic})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficTransactional, 1)
		require.NoError(t, err)
		require.Equal(t, Grant, res.Outcome, "send %d should fit the bucket", i)
	}

	res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Deferred, res.Outcome)
	assert.Greater(t, res.RetryAfter.Milliseconds(), int64(0))
}

func TestReserveCapsMarketingShare(t *testing.T) {
	// 10/sec total, 80% reserved for transactional leaves 2/sec for marketing.
	svc := newTestService(t, 10, 80, &stubUsage{}, &stubTeams{plan: domain.PlanBasic})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficMarketing, 1)
		require.NoError(t, err)
		require.Equal(t, Grant, res.Outcome)
	}

	res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficMarketing, 1)
	require.NoError(t, err)
	assert.Equal(t, Deferred, res.Outcome)

	// Transactional still has room in the main bucket.
	res, err = svc.Reserve(ctx, "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Grant, res.Outcome)
}

func TestReserveMarketingCountsAgainstTotal(t *testing.T) {
	svc := newTestService(t, 3, 0, &stubUsage{}, &stubTeams{plan: domain.PlanBasic})
	ctx := context.Background()

	// Quota percent 0 leaves the whole bucket to marketing.
	for i := 0; i < 3; i++ {
		res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficMarketing, 1)
		require.NoError(t, err)
		require.Equal(t, Grant, res.Outcome)
	}

	res, err := svc.Reserve(ctx, "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Deferred, res.Outcome, "marketing sends must drain the shared bucket")
}

func TestReserveUnknownRegion(t *testing.T) {
	svc := newTestService(t, 10, 80, &stubUsage{}, &stubTeams{plan: domain.PlanBasic})

	_, err := svc.Reserve(context.Background(), "mars-central-1", domain.TrafficTransactional, 1)
	assert.ErrorIs(t, err, region.ErrUnknownRegion)
}

func TestReserveDeniesOnMonthlyLimit(t *testing.T) {
	usage := &stubUsage{period: 3000}
	svc := newTestService(t, 10, 80, usage, &stubTeams{plan: domain.PlanFree})

	res, err := svc.Reserve(context.Background(), "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, domain.LimitEmail, res.LimitReason)
	assert.Equal(t, 3000, res.Limit)
}

func TestReserveDeniesOnDailyLimit(t *testing.T) {
	usage := &stubUsage{period: 500, today: 100}
	svc := newTestService(t, 10, 80, usage, &stubTeams{plan: domain.PlanFree})

	res, err := svc.Reserve(context.Background(), "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, 100, res.Limit)
}

func TestReserveSkipsUsageForUnlimitedPlan(t *testing.T) {
	usage := &stubUsage{period: 1_000_000, today: 50_000}
	svc := newTestService(t, 10, 80, usage, &stubTeams{plan: domain.PlanBasic})

	res, err := svc.Reserve(context.Background(), "us-east-1", domain.TrafficTransactional, 1)
	require.NoError(t, err)
	assert.Equal(t, Grant, res.Outcome)
}

func TestCheckDomainLimit(t *testing.T) {
	teams := &stubTeams{plan: domain.PlanFree, domains: 1}
	svc := newTestService(t, 10, 80, &stubUsage{}, teams)

	res, err := svc.CheckDomainLimit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, domain.LimitDomain, res.LimitReason)

	teams.domains = 0
	res, err = svc.CheckDomainLimit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Grant, res.Outcome)
}
