package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/apperrors"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/repository"
	"github.com/ndewijer/market-data-cache/internal/resilience"
	"github.com/ndewijer/market-data-cache/internal/upstream"
	"github.com/ndewijer/market-data-cache/internal/validation"
)

// DefaultEarningsKeywords is the allow-list used when none is configured.
var DefaultEarningsKeywords = []string{"result", "earnings", "financial statement", "quarterly"}

// AnnouncementPolicy decides at ingestion which announcements are
// earnings-relevant. Exchanges label categories differently, so the rule is
// swappable.
type AnnouncementPolicy interface {
	Accept(a upstream.RawAnnouncement) bool
}

// KeywordPolicy accepts announcements whose type or subject contains one of
// the keywords, case-insensitively. An empty keyword list accepts everything.
type KeywordPolicy struct {
	keywords []string
}

// NewKeywordPolicy creates a policy from an allow-list.
func NewKeywordPolicy(keywords []string) KeywordPolicy {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return KeywordPolicy{keywords: kw}
}

// Accept implements AnnouncementPolicy.
func (p KeywordPolicy) Accept(a upstream.RawAnnouncement) bool {
	if len(p.keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(a.Type + " " + a.Subject)
	for _, k := range p.keywords {
		if strings.Contains(haystack, k) {
			return true
		}
	}
	return false
}

// EarningsService narrows a universe to the symbols with an upcoming earnings
// announcement. Announcements are cached per fetched date window with the
// same TTL as bars.
type EarningsService struct {
	earnings *repository.EarningsRepository
	mappings *repository.MappingRepository
	source   upstream.CalendarSource
	executor *resilience.Executor
	policy   AnnouncementPolicy
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewEarningsService creates a new EarningsService.
func NewEarningsService(
	earnings *repository.EarningsRepository,
	mappings *repository.MappingRepository,
	source upstream.CalendarSource,
	executor *resilience.Executor,
	policy AnnouncementPolicy,
	ttl time.Duration,
	logger *zap.Logger,
) *EarningsService {
	return &EarningsService{
		earnings: earnings,
		mappings: mappings,
		source:   source,
		executor: executor,
		policy:   policy,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock returns a copy of the service that reads the current time from now.
func (s *EarningsService) WithClock(now func() time.Time) *EarningsService {
	clone := *s
	clone.now = now
	return &clone
}

// Window returns the date window [today, today+lookforwardDays] in UTC.
func (s *EarningsService) Window(lookforwardDays int) model.TimeRange {
	y, m, d := s.now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return model.TimeRange{From: today, To: today.AddDate(0, 0, lookforwardDays)}
}

// GetUpcomingEarnings returns the earnings announcements dated within the
// next lookforwardDays. A fresh fetched window covering the request is served
// from the store; otherwise the calendar is fetched, filtered by the policy
// and stored. If the calendar fails but announcements for the window are
// stored, they are returned and the failure is logged.
func (s *EarningsService) GetUpcomingEarnings(ctx context.Context, lookforwardDays int, forceRefresh bool) ([]model.EarningsAnnouncement, error) {
	if lookforwardDays < 0 {
		return nil, fmt.Errorf("%w: lookforward days must not be negative", apperrors.ErrInvalidDateRange)
	}
	window := s.Window(lookforwardDays)

	if !forceRefresh {
		fresh, err := s.earnings.WindowFresh(ctx, window.From, window.To, s.ttl)
		if err != nil {
			return nil, err
		}
		if fresh {
			return s.earnings.ListBetween(ctx, window.From, window.To)
		}
	}

	raw, err := resilience.Do(ctx, s.executor, "fetch_announcements", func(ctx context.Context) ([]upstream.RawAnnouncement, error) {
		return s.source.FetchAnnouncements(ctx, window.From, window.To)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		stored, listErr := s.earnings.ListBetween(ctx, window.From, window.To)
		if listErr == nil && len(stored) > 0 {
			s.logger.Warn("calendar unavailable, serving stored announcements",
				zap.Int("announcements", len(stored)),
				zap.Error(err))
			return stored, nil
		}
		return nil, fmt.Errorf("fetch announcements: %w", err)
	}

	anns := s.ingest(raw)
	if err := s.earnings.ReplaceWindow(ctx, window.From, window.To, anns); err != nil {
		return nil, err
	}
	s.logger.Info("earnings calendar refreshed",
		zap.Time("from", window.From),
		zap.Time("to", window.To),
		zap.Int("received", len(raw)),
		zap.Int("kept", len(anns)))

	return s.earnings.ListBetween(ctx, window.From, window.To)
}

// ingest applies the policy and drops duplicates of the natural key.
func (s *EarningsService) ingest(raw []upstream.RawAnnouncement) []model.EarningsAnnouncement {
	seen := make(map[string]bool, len(raw))
	out := make([]model.EarningsAnnouncement, 0, len(raw))
	for _, a := range raw {
		if a.SourceCode == "" || !s.policy.Accept(a) {
			continue
		}
		y, m, d := a.Date.UTC().Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		key := a.SourceCode + "|" + date.Format(time.DateOnly) + "|" + a.Subject
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, model.EarningsAnnouncement{
			SourceCode:       a.SourceCode,
			CompanyName:      a.CompanyName,
			AnnouncementDate: date,
			AnnouncementType: a.Type,
			Subject:          a.Subject,
		})
	}
	return out
}

// FilterUniverseByEarnings keeps the members of universe that have an
// earnings announcement within lookforwardDays, preserving universe order.
// Announcement codes without a mapping are reported in UnmappedCodes. An
// empty window yields an empty filtered universe; deciding whether that
// means "trade nothing" or "fall back" is left to the caller.
func (s *EarningsService) FilterUniverseByEarnings(ctx context.Context, universe []string, lookforwardDays int, forceRefresh bool) (model.FilterResult, error) {
	anns, err := s.GetUpcomingEarnings(ctx, lookforwardDays, forceRefresh)
	if err != nil {
		return model.FilterResult{}, err
	}

	codes := make([]string, 0, len(anns))
	seenCode := make(map[string]bool, len(anns))
	for _, a := range anns {
		if !seenCode[a.SourceCode] {
			seenCode[a.SourceCode] = true
			codes = append(codes, a.SourceCode)
		}
	}

	resolved, err := s.mappings.Resolve(ctx, codes)
	if err != nil {
		return model.FilterResult{}, err
	}

	catalysts := make(map[string]bool, len(resolved))
	unmapped := []string{}
	for _, code := range codes {
		symbol, ok := resolved[code]
		if !ok {
			unmapped = append(unmapped, code)
			continue
		}
		catalysts[strings.ToUpper(symbol)] = true
	}
	sort.Strings(unmapped)

	filtered := []string{}
	for _, sym := range universe {
		if catalysts[strings.ToUpper(strings.TrimSpace(sym))] {
			filtered = append(filtered, sym)
		}
	}

	result := model.FilterResult{
		FilteredUniverse:   filtered,
		OriginalSize:       len(universe),
		FilteredSize:       len(filtered),
		AnnouncementsFound: len(anns),
		SymbolsMapped:      len(codes) - len(unmapped),
		UnmappedCodes:      unmapped,
	}
	if result.OriginalSize > 0 {
		result.ReductionPct = (1 - float64(result.FilteredSize)/float64(result.OriginalSize)) * 100
	}

	s.logger.Info("universe filtered by earnings",
		zap.Int("original", result.OriginalSize),
		zap.Int("filtered", result.FilteredSize),
		zap.Int("announcements", result.AnnouncementsFound),
		zap.Int("unmapped", len(unmapped)))
	return result, nil
}

// AddMapping creates or updates one mapping. Returns true when a row was
// created or changed.
func (s *EarningsService) AddMapping(ctx context.Context, sourceCode, canonicalSymbol, companyName string) (bool, error) {
	changed, err := s.ImportMappings(ctx, []model.SymbolMapping{{
		SourceCode:      sourceCode,
		CanonicalSymbol: canonicalSymbol,
		CompanyName:     companyName,
	}})
	if err != nil {
		return false, err
	}
	return changed > 0, nil
}

// ImportMappings upserts a batch of mappings in one transaction and returns
// how many rows changed. The whole batch is refused if any row is invalid.
func (s *EarningsService) ImportMappings(ctx context.Context, mappings []model.SymbolMapping) (int, error) {
	clean := make([]model.SymbolMapping, 0, len(mappings))
	for i, m := range mappings {
		m.SourceCode = strings.TrimSpace(m.SourceCode)
		m.CanonicalSymbol = strings.ToUpper(strings.TrimSpace(m.CanonicalSymbol))
		m.CompanyName = strings.TrimSpace(m.CompanyName)
		if err := validation.ValidateStruct(m); err != nil {
			return 0, fmt.Errorf("mapping %d: %w", i+1, err)
		}
		clean = append(clean, m)
	}

	changed, err := s.mappings.Upsert(ctx, clean...)
	if err != nil {
		return 0, err
	}
	s.logger.Info("symbol mappings upserted", zap.Int("received", len(mappings)), zap.Int("changed", changed))
	return changed, nil
}

// ListMappings returns stored mappings, optionally filtered by symbol prefix.
func (s *EarningsService) ListMappings(ctx context.Context, prefix string) ([]model.SymbolMapping, error) {
	return s.mappings.List(ctx, prefix)
}
