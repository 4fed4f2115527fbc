package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/repository"
)

var ledgerTracer = otel.Tracer("gatekeeper/usage")

// QuotaStatus is the non-mutating admission answer for one identity, today.
type QuotaStatus struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Unlimited bool      `json:"unlimited"`
	Trialing  bool      `json:"trialing"`
	ResetsAt  time.Time `json:"resets_at"`
}

// DailyUsage reports today's standing counter for UI display and the
// post-increment count on admission.
type DailyUsage struct {
	Count     int       `json:"count"`
	Limit     int       `json:"limit"`
	Unlimited bool      `json:"unlimited"`
	ResetsAt  time.Time `json:"resets_at"`
}

// UsageLedger enforces the per-identity daily interaction quota. All three
// operations compute "today" exactly once from wall-clock time in the
// deployment timezone, so a request straddling midnight is judged by the day
// active when the operation ran.
type UsageLedger struct {
	usage      repository.UsageRepository
	subs       repository.SubscriptionRepository
	catalog    PlanCatalog
	loc        *time.Location
	trialLimit int
	now        func() time.Time
}

// NewUsageLedger wires the ledger. trialLimit is the elevated daily limit
// granted while a trial is active; zero means the trial is unrestricted.
func NewUsageLedger(usage repository.UsageRepository, subs repository.SubscriptionRepository, catalog PlanCatalog, loc *time.Location, trialLimit int) *UsageLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageLedger{
		usage:      usage,
		subs:       subs,
		catalog:    catalog,
		loc:        loc,
		trialLimit: trialLimit,
		now:        time.Now,
	}
}

type effectiveLimit struct {
	limit     int
	unlimited bool
	trialing  bool
}

// resolveLimit reads the subscription and plan catalog to decide today's
// effective limit. While a trial is active the most generous of trial and
// plan limit applies. An expired trial whose plan is unknown to the catalog
// resolves to a zero limit, i.e. no access.
func (l *UsageLedger) resolveLimit(ctx context.Context, identityID string, now time.Time) (effectiveLimit, error) {
	sub, err := l.subs.FindByIdentity(identityID)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			observability.RecordQuotaDecision(ctx, "no_subscription")
			return effectiveLimit{}, domain.ErrSubscriptionNotFound
		}
		return effectiveLimit{}, domain.StorageError(err)
	}

	planLimit := 0
	if limit, err := l.catalog.DailyLimitFor(ctx, sub.PlanType); err == nil {
		planLimit = limit
	} else if !errors.Is(err, repository.ErrPlanNotFound) {
		return effectiveLimit{}, domain.StorageError(err)
	}

	if sub.IsTrialing(now) {
		if l.trialLimit <= 0 {
			return effectiveLimit{limit: repository.UnlimitedDailyLimit, unlimited: true, trialing: true}, nil
		}
		limit := l.trialLimit
		if planLimit > limit {
			limit = planLimit
		}
		return effectiveLimit{limit: limit, trialing: true}, nil
	}
	return effectiveLimit{limit: planLimit}, nil
}

func (l *UsageLedger) CheckQuota(ctx context.Context, identityID string) (QuotaStatus, error) {
	ctx, span := ledgerTracer.Start(ctx, "usage.check",
		trace.WithAttributes(attribute.String("identity.id", identityID)))
	defer span.End()

	now := l.now()
	eff, err := l.resolveLimit(ctx, identityID, now)
	if err != nil {
		return QuotaStatus{}, err
	}

	used := 0
	rec, err := l.usage.Find(identityID, domain.DayKey(now, l.loc))
	switch {
	case err == nil:
		used = rec.InteractionCount
	case errors.Is(err, repository.ErrUsageNotFound):
		// No interactions today yet; nothing to materialize on a read.
	default:
		observability.RecordQuotaDecision(ctx, "error")
		return QuotaStatus{}, domain.StorageError(err)
	}

	status := QuotaStatus{
		Allowed:   eff.unlimited || used < eff.limit,
		Limit:     eff.limit,
		Used:      used,
		Unlimited: eff.unlimited,
		Trialing:  eff.trialing,
		ResetsAt:  domain.NextDayStart(now, l.loc),
	}
	if status.Allowed {
		observability.RecordQuotaDecision(ctx, "allowed")
	} else {
		observability.RecordQuotaDecision(ctx, "denied")
	}
	return status, nil
}

func (l *UsageLedger) IncrementUsage(ctx context.Context, identityID string) (DailyUsage, error) {
	ctx, span := ledgerTracer.Start(ctx, "usage.increment",
		trace.WithAttributes(attribute.String("identity.id", identityID)))
	defer span.End()

	now := l.now()
	eff, err := l.resolveLimit(ctx, identityID, now)
	if err != nil {
		return DailyUsage{}, err
	}

	resetsAt := domain.NextDayStart(now, l.loc)
	rec, err := l.usage.Increment(identityID, domain.DayKey(now, l.loc), eff.limit, eff.trialing)
	if err != nil {
		if errors.Is(err, repository.ErrDailyLimitReached) {
			observability.RecordQuotaDecision(ctx, "denied")
			used := eff.limit
			if rec != nil {
				used = rec.InteractionCount
			}
			return DailyUsage{}, &domain.QuotaError{Limit: eff.limit, Used: used, ResetsAt: resetsAt}
		}
		observability.RecordQuotaDecision(ctx, "error")
		return DailyUsage{}, domain.StorageError(err)
	}

	observability.RecordQuotaDecision(ctx, "allowed")
	return DailyUsage{
		Count:     rec.InteractionCount,
		Limit:     eff.limit,
		Unlimited: eff.unlimited,
		ResetsAt:  resetsAt,
	}, nil
}

func (l *UsageLedger) GetDailyUsage(ctx context.Context, identityID string) (DailyUsage, error) {
	now := l.now()
	eff, err := l.resolveLimit(ctx, identityID, now)
	if err != nil {
		return DailyUsage{}, err
	}

	count := 0
	rec, err := l.usage.Find(identityID, domain.DayKey(now, l.loc))
	switch {
	case err == nil:
		count = rec.InteractionCount
	case errors.Is(err, repository.ErrUsageNotFound):
	default:
		return DailyUsage{}, domain.StorageError(err)
	}

	return DailyUsage{
		Count:     count,
		Limit:     eff.limit,
		Unlimited: eff.unlimited,
		ResetsAt:  domain.NextDayStart(now, l.loc),
	}, nil
}
