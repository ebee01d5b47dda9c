// Package limiter implements the per-region send-rate allocator and the
// per-team plan quota checks.
//
// Region budgets are enforced with an atomic Redis Lua script so that
// multiple worker processes share one source of truth per region. Each
// region has a one-second bucket refilled at RegionSetting.SendRate;
// transactional traffic may draw from the full bucket while marketing
// traffic is additionally capped at the marketing share. The marketing
// counter is a sub-count of the total, so the combined throughput can
// never exceed the region rate.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/dispatch/internal/domain"
	"github.com/ignite/dispatch/internal/region"
)

// Outcome classifies a reservation attempt.
type Outcome int

const (
	// Grant means the send may proceed now.
	Grant Outcome = iota
	// Deferred means the region budget is exhausted this second; retry
	// after the hint, no error surfaces to the caller.
	Deferred
	// Denied means a plan limit is exhausted; surfaced to the caller as
	// a limit error and never retried automatically.
	Denied
)

// Reservation is the result of Reserve.
type Reservation struct {
	Outcome    Outcome
	RetryAfter time.Duration
	// LimitReason and Limit are set when Outcome is Denied.
	LimitReason domain.LimitReason
	Limit       int
}

// UsageReader supplies sent counts for plan-limit checks.
type UsageReader interface {
	// SentCounts returns emails sent this billing period and today.
	SentCounts(ctx context.Context, teamID int64) (period int64, today int64, err error)
}

// TeamReader supplies team plan and resource counts.
type TeamReader interface {
	Team(ctx context.Context, teamID int64) (domain.Team, error)
	DomainCount(ctx context.Context, teamID int64) (int, error)
	ContactBookCount(ctx context.Context, teamID int64) (int, error)
	TeamMemberCount(ctx context.Context, teamID int64) (int, error)
}

// Atomically checks the region bucket and the marketing sub-bucket, then
// increments. Checking before incrementing avoids the read-then-increment race.
const reserveLuaScript = `
local totalKey = KEYS[1]
local mktKey = KEYS[2]
local increment = tonumber(ARGV[1])
local sendRate = tonumber(ARGV[2])
local mktCap = tonumber(ARGV[3])
local isMarketing = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local total = tonumber(redis.call("GET", totalKey) or "0")
if total + increment > sendRate then
    return 0
end

if isMarketing == 1 then
    local mkt = tonumber(redis.call("GET", mktKey) or "0")
    if mkt + increment > mktCap then
        return 0
    end
    local newMkt = redis.call("INCRBY", mktKey, increment)
    if newMkt == increment then
        redis.call("EXPIRE", mktKey, ttl)
    end
end

local newTotal = redis.call("INCRBY", totalKey, increment)
if newTotal == increment then
    redis.call("EXPIRE", totalKey, ttl)
end

return 1
`

// Service allocates send-rate tokens and enforces plan limits.
type Service struct {
	redis    *redis.Client
	registry *region.Registry
	usage    UsageReader
	teams    TeamReader

	reserveScript *redis.Script
}

// NewService creates a limiter. The Lua script is compiled once.
func NewService(rdb *redis.Client, registry *region.Registry, usage UsageReader, teams TeamReader) *Service {
	return &Service{
		redis:         rdb,
		registry:      registry,
		usage:         usage,
		teams:         teams,
		reserveScript: redis.NewScript(reserveLuaScript),
	}
}

// Reserve checks the team's plan limits and then draws one token from the
// region bucket for the given traffic type.
func (s *Service) Reserve(ctx context.Context, regionCode string, traffic domain.TrafficType, teamID int64) (Reservation, error) {
	if res, err := s.CheckEmailLimit(ctx, teamID); err != nil || res.Outcome == Denied {
		return res, err
	}

	setting, err := s.registry.GetSetting(regionCode)
	if err != nil {
		return Reservation{}, err
	}

	now := time.Now()
	totalKey := fmt.Sprintf("dispatch:rate:%s:sec:%d", regionCode, now.Unix())
	mktKey := fmt.Sprintf("dispatch:rate:%s:mkt:sec:%d", regionCode, now.Unix())

	isMarketing := 0
	if traffic == domain.TrafficMarketing {
		isMarketing = 1
	}

	allowed, err := s.reserveScript.Run(ctx, s.redis,
		[]string{totalKey, mktKey},
		1,
		setting.SendRate,
		setting.MarketingRate(),
		isMarketing,
		2, // bucket TTL seconds
	).Int64()
	if err != nil {
		return Reservation{}, fmt.Errorf("rate reserve: %w", err)
	}

	if allowed != 1 {
		// Bucket rolls over at the next second boundary.
		wait := time.Second - time.Duration(now.Nanosecond())
		if wait < 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		return Reservation{Outcome: Deferred, RetryAfter: wait}, nil
	}

	return Reservation{Outcome: Grant}, nil
}

// CheckEmailLimit checks the team's daily and monthly send caps. Paid plans
// are unlimited (-1) and skip the usage query.
func (s *Service) CheckEmailLimit(ctx context.Context, teamID int64) (Reservation, error) {
	team, err := s.teams.Team(ctx, teamID)
	if err != nil {
		return Reservation{}, fmt.Errorf("load team: %w", err)
	}

	limits := domain.Limits[team.Plan]
	if limits.EmailsPerMonth == -1 && limits.EmailsPerDay == -1 {
		return Reservation{Outcome: Grant}, nil
	}

	period, today, err := s.usage.SentCounts(ctx, teamID)
	if err != nil {
		return Reservation{}, fmt.Errorf("load usage: %w", err)
	}

	if domain.LimitExceeded(int(period), limits.EmailsPerMonth) {
		return Reservation{Outcome: Denied, LimitReason: domain.LimitEmail, Limit: limits.EmailsPerMonth}, nil
	}
	if domain.LimitExceeded(int(today), limits.EmailsPerDay) {
		return Reservation{Outcome: Denied, LimitReason: domain.LimitEmail, Limit: limits.EmailsPerDay}, nil
	}
	return Reservation{Outcome: Grant}, nil
}

// CheckDomainLimit enforces the per-plan domain cap.
func (s *Service) CheckDomainLimit(ctx context.Context, teamID int64) (Reservation, error) {
	return s.checkResource(ctx, teamID, domain.LimitDomain, func(l domain.PlanLimits) int { return l.Domains }, s.teams.DomainCount)
}

// CheckContactBookLimit enforces the per-plan contact book cap.
func (s *Service) CheckContactBookLimit(ctx context.Context, teamID int64) (Reservation, error) {
	return s.checkResource(ctx, teamID, domain.LimitContactBook, func(l domain.PlanLimits) int { return l.ContactBooks }, s.teams.ContactBookCount)
}

// CheckTeamMemberLimit enforces the per-plan member cap.
func (s *Service) CheckTeamMemberLimit(ctx context.Context, teamID int64) (Reservation, error) {
	return s.checkResource(ctx, teamID, domain.LimitTeamMember, func(l domain.PlanLimits) int { return l.TeamMembers }, s.teams.TeamMemberCount)
}

func (s *Service) checkResource(ctx context.Context, teamID int64, reason domain.LimitReason, pick func(domain.PlanLimits) int, count func(context.Context, int64) (int, error)) (Reservation, error) {
	team, err := s.teams.Team(ctx, teamID)
	if err != nil {
		return Reservation{}, fmt.Errorf("load team: %w", err)
	}
	limit := pick(domain.Limits[team.Plan])
	if limit == -1 {
		return Reservation{Outcome: Grant}, nil
	}
	current, err := count(ctx, teamID)
	if err != nil {
		return Reservation{}, err
	}
	if domain.LimitExceeded(current, limit) {
		return Reservation{Outcome: Denied, LimitReason: reason, Limit: limit}, nil
	}
	return Reservation{Outcome: Grant}, nil
}
