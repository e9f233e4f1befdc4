package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/models"
	"github.com/osspulse/pulse-engine/pkg/repositories"
)

// Normalization caps: a sub-signal at or above its cap scores 100.
const (
	capStarVelocity    = 50.0     // stars/day
	capTimeToThreshold = 730.0    // days; crossing on day 0 scores 100
	capCommitTrend     = 10.0     // commits/week slope
	capContributors    = 50.0     // listed contributors
	capDependents      = 1000.0   // downstream dependents
	capDownloads       = 100000.0 // 30-day downloads
	capForkRatio       = 0.3      // forks per star
)

// Responsiveness scoring bounds: first response within fastResponseHours
// scores 100, beyond slowResponseHours scores 0.
const (
	fastResponseHours = 6.0
	slowResponseHours = 168.0
)

// Exceptional-signal thresholds: any one qualifies a repo for inclusion
// even without a recent threshold crossing.
const (
	exceptionalCommitTrend   = 5.0
	exceptionalMaintainers   = 20.0
	exceptionalResponseHours = 6.0
)

// WatchlistStats reports one scoring run.
type WatchlistStats struct {
	RunID      string           `json:"run_id"`
	Status     models.JobStatus `json:"status"`
	Considered int              `json:"considered"`
	Included   int              `json:"included"`
	Duration   time.Duration    `json:"duration"`
}

// WatchlistService converts accumulated snapshots into one immutable ranked
// generation. The scorer is a discovery filter, not an exhaustive ranking:
// inclusion needs base eligibility plus at least one interestingness signal.
// Missing measurements degrade a score toward 0 instead of disqualifying.
type WatchlistService interface {
	// Generate scores all eligible repos with analysis data and writes the
	// result as a new generation. Prior generations stay untouched.
	Generate(ctx context.Context) ([]*models.ScoredRepo, *WatchlistStats, error)

	// Latest returns the most recent generation for rendering.
	Latest(ctx context.Context) ([]*models.ScoredRepo, error)
}

type watchlistService struct {
	repoRepo      repositories.RepoRepository
	deepRepo      repositories.DeepSnapshotRepository
	discoveryRepo repositories.DiscoverySnapshotRepository
	watchlistRepo repositories.WatchlistRepository
	jobRunService JobRunService
	cfg           config.WatchlistConfig
	logger        *zap.Logger

	now func() time.Time
}

func NewWatchlistService(
	repoRepo repositories.RepoRepository,
	deepRepo repositories.DeepSnapshotRepository,
	discoveryRepo repositories.DiscoverySnapshotRepository,
	watchlistRepo repositories.WatchlistRepository,
	jobRunService JobRunService,
	cfg config.WatchlistConfig,
	logger *zap.Logger,
) WatchlistService {
	return &watchlistService{
		repoRepo:      repoRepo,
		deepRepo:      deepRepo,
		discoveryRepo: discoveryRepo,
		watchlistRepo: watchlistRepo,
		jobRunService: jobRunService,
		cfg:           cfg,
		logger:        logger.Named("watchlist"),
		now:           time.Now,
	}
}

var _ WatchlistService = (*watchlistService)(nil)

func (s *watchlistService) Generate(ctx context.Context) ([]*models.ScoredRepo, *WatchlistStats, error) {
	run, err := s.jobRunService.Begin(ctx, models.JobTypeWatchlist)
	if err != nil {
		return nil, nil, err
	}
	startedAt := s.now()
	stats := &WatchlistStats{RunID: run.ID.String(), Status: models.JobStatusCompleted}

	repos, err := s.repoRepo.ListEligible(ctx)
	if err != nil {
		s.sealFailed(ctx, run, err)
		return nil, nil, err
	}

	generatedAt := s.now()
	var entries []*models.WatchlistEntry
	var scored []*models.ScoredRepo

	for _, repo := range repos {
		entry, err := s.scoreRepo(ctx, repo)
		if err != nil {
			s.sealFailed(ctx, run, err)
			return nil, nil, fmt.Errorf("scoring %s: %w", repo.FullName, err)
		}
		if entry == nil {
			continue
		}
		stats.Considered++
		if !s.includable(ctx, repo, entry) {
			continue
		}
		stats.Included++
		entries = append(entries, entry)
		scored = append(scored, &models.ScoredRepo{Entry: *entry, Repo: *repo})
	}

	if err := s.watchlistRepo.CreateGeneration(ctx, generatedAt, entries); err != nil {
		s.sealFailed(ctx, run, err)
		return nil, nil, err
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Entry.MomentumScore > scored[j].Entry.MomentumScore
	})

	stats.Duration = s.now().Sub(startedAt)
	runStats := map[string]any{
		"considered": stats.Considered,
		"included":   stats.Included,
	}
	if err := s.jobRunService.Seal(ctx, run, models.JobStatusCompleted, 0, runStats, ""); err != nil {
		return nil, nil, err
	}

	s.logger.Info("Generation written",
		zap.Int("considered", stats.Considered),
		zap.Int("included", stats.Included))
	return scored, stats, nil
}

func (s *watchlistService) Latest(ctx context.Context) ([]*models.ScoredRepo, error) {
	return s.watchlistRepo.LatestGeneration(ctx)
}

// subSignal is one normalized component of a track score.
type subSignal struct {
	name   string
	score  float64 // 0-100, 0 when the measurement is missing
	weight float64
	detail string
}

func (sig subSignal) contribution() float64 { return sig.score * sig.weight }

// scoreRepo builds the watchlist entry for one repo, or nil when the repo
// has no deep analysis yet.
func (s *watchlistService) scoreRepo(ctx context.Context, repo *models.Repo) (*models.WatchlistEntry, error) {
	deep, err := s.deepRepo.LatestByRepo(ctx, repo.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	momentum, err := s.momentumSignals(ctx, repo, deep)
	if err != nil {
		return nil, err
	}
	durability := s.durabilitySignals(deep)
	adoption := s.adoptionSignals(deep)

	entry := &models.WatchlistEntry{
		RepoID:          repo.ID,
		MomentumScore:   trackScore(momentum),
		DurabilityScore: trackScore(durability),
		AdoptionScore:   trackScore(adoption),
		Factors: map[string]string{
			"momentum":   describeSignals(momentum),
			"durability": describeSignals(durability),
			"adoption":   describeSignals(adoption),
		},
	}
	entry.Rationale = rationale(entry, momentum, durability, adoption)
	return entry, nil
}

func (s *watchlistService) momentumSignals(ctx context.Context, repo *models.Repo, deep *models.DeepSnapshot) ([]subSignal, error) {
	w := s.cfg.Momentum

	snaps, err := s.discoveryRepo.ListRecentByRepo(ctx, repo.ID, 2)
	if err != nil {
		return nil, err
	}
	var velocityScore float64
	var velocityDetail string
	if velocity, ok := starVelocityFromSnapshots(snaps); ok && velocity > 0 {
		velocityScore = normalize(velocity, capStarVelocity)
		velocityDetail = fmt.Sprintf("%.1f stars/day", velocity)
	}

	// Time to threshold: how quickly the repo reached the visibility bar
	// after creation. Faster crossings score higher.
	var crossScore float64
	var crossDetail string
	crossing, err := s.discoveryRepo.FirstCrossing(ctx, repo.ID, s.cfg.StarThreshold)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if crossing != nil {
		days := crossing.CapturedAt.Sub(repo.CreatedAt).Hours() / 24
		if days >= 0 && days < capTimeToThreshold {
			crossScore = (capTimeToThreshold - days) / capTimeToThreshold * 100
			crossDetail = fmt.Sprintf("%d stars in %.0f days", s.cfg.StarThreshold, days)
		}
	}

	var trendScore float64
	var trendDetail string
	if trend, ok := deep.Velocity.CommitTrendSlope.Value(); ok && trend > 0 {
		trendScore = normalize(trend, capCommitTrend)
		trendDetail = fmt.Sprintf("commit trend +%.1f/week", trend)
	}

	return []subSignal{
		{name: "star velocity", score: velocityScore, weight: w.First, detail: velocityDetail},
		{name: "time to threshold", score: crossScore, weight: w.Second, detail: crossDetail},
		{name: "commit trend", score: trendScore, weight: w.Third, detail: trendDetail},
	}, nil
}

func (s *watchlistService) durabilitySignals(deep *models.DeepSnapshot) []subSignal {
	w := s.cfg.Durability

	var contribScore float64
	var contribDetail string
	if total, ok := deep.Contributors.TotalContributors.Value(); ok {
		contribScore = normalize(total, capContributors)
		contribDetail = fmt.Sprintf("%.0f contributors", total)
	}

	// Bus factor: the lower the top contributor's share, the sturdier the
	// project.
	var busScore float64
	var busDetail string
	if share, ok := deep.Contributors.TopShare.Value(); ok {
		busScore = clampScore((1 - share) * 100)
		busDetail = fmt.Sprintf("top contributor %.0f%% of commits", share*100)
	}

	var respScore float64
	var respDetail string
	if hours, ok := deep.Responsiveness.MedianIssueResponseHours.Value(); ok {
		respScore = responseScore(hours)
		respDetail = fmt.Sprintf("median first response %.1fh", hours)
	}

	return []subSignal{
		{name: "contributor base", score: contribScore, weight: w.First, detail: contribDetail},
		{name: "bus factor", score: busScore, weight: w.Second, detail: busDetail},
		{name: "responsiveness", score: respScore, weight: w.Third, detail: respDetail},
	}
}

func (s *watchlistService) adoptionSignals(deep *models.DeepSnapshot) []subSignal {
	w := s.cfg.Adoption

	var depScore float64
	var depDetail string
	if deps, ok := deep.Adoption.Dependents.Value(); ok {
		depScore = normalize(deps, capDependents)
		depDetail = fmt.Sprintf("%.0f dependents", deps)
	}

	var dlScore float64
	var dlDetail string
	if downloads, ok := deep.Adoption.Downloads30d.Value(); ok {
		dlScore = normalize(downloads, capDownloads)
		dlDetail = fmt.Sprintf("%.0f downloads/30d", downloads)
	}

	var ratioScore float64
	var ratioDetail string
	if ratio, ok := deep.Adoption.ForkToStarRatio.Value(); ok {
		ratioScore = normalize(ratio, capForkRatio)
		ratioDetail = fmt.Sprintf("%.2f forks/star", ratio)
	}

	return []subSignal{
		{name: "dependents", score: depScore, weight: w.First, detail: depDetail},
		{name: "downloads", score: dlScore, weight: w.Second, detail: dlDetail},
		{name: "fork ratio", score: ratioScore, weight: w.Third, detail: ratioDetail},
	}
}

// includable applies the interestingness gate: a recent threshold crossing
// or one exceptional signal.
func (s *watchlistService) includable(ctx context.Context, repo *models.Repo, entry *models.WatchlistEntry) bool {
	crossing, err := s.discoveryRepo.FirstCrossing(ctx, repo.ID, s.cfg.StarThreshold)
	if err == nil && crossing.CapturedAt.After(s.now().AddDate(0, 0, -s.cfg.RecentCrossDays)) {
		return true
	}

	deep, err := s.deepRepo.LatestByRepo(ctx, repo.ID)
	if err != nil {
		return false
	}
	if trend, ok := deep.Velocity.CommitTrendSlope.Value(); ok && trend > exceptionalCommitTrend {
		return true
	}
	if maintainers, ok := deep.Risk.ActiveMaintainers.Value(); ok && maintainers > exceptionalMaintainers {
		return true
	}
	if hours, ok := deep.Responsiveness.MedianIssueResponseHours.Value(); ok && hours < exceptionalResponseHours {
		return true
	}
	return false
}

// rationale names the 1-2 strongest sub-signals of the dominant track.
func rationale(entry *models.WatchlistEntry, momentum, durability, adoption []subSignal) string {
	track := "momentum"
	signals := momentum
	best := entry.MomentumScore
	if entry.DurabilityScore > best {
		track, signals, best = "durability", durability, entry.DurabilityScore
	}
	if entry.AdoptionScore > best {
		track, signals = "adoption", adoption
	}

	contributing := make([]subSignal, 0, len(signals))
	for _, sig := range signals {
		if sig.contribution() > 0 && sig.detail != "" {
			contributing = append(contributing, sig)
		}
	}
	if len(contributing) == 0 {
		return fmt.Sprintf("no strong %s signals with available data", track)
	}
	sort.Slice(contributing, func(i, j int) bool {
		return contributing[i].contribution() > contributing[j].contribution()
	})
	if len(contributing) > 2 {
		contributing = contributing[:2]
	}

	details := make([]string, len(contributing))
	for i, sig := range contributing {
		details[i] = sig.detail
	}
	return fmt.Sprintf("%s driven by %s", track, strings.Join(details, " and "))
}

func trackScore(signals []subSignal) float64 {
	var total float64
	for _, sig := range signals {
		total += sig.contribution()
	}
	return clampScore(total)
}

func describeSignals(signals []subSignal) string {
	parts := make([]string, 0, len(signals))
	for _, sig := range signals {
		if sig.detail != "" {
			parts = append(parts, sig.detail)
		}
	}
	if len(parts) == 0 {
		return "no data"
	}
	return strings.Join(parts, ", ")
}

// normalize maps v linearly onto 0-100, saturating at ceiling.
func normalize(v, ceiling float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= ceiling {
		return 100
	}
	return v / ceiling * 100
}

// responseScore maps median first-response hours onto 0-100: at or under
// fastResponseHours scores 100, at or over slowResponseHours scores 0.
func responseScore(hours float64) float64 {
	if hours <= fastResponseHours {
		return 100
	}
	if hours >= slowResponseHours {
		return 0
	}
	return (slowResponseHours - hours) / (slowResponseHours - fastResponseHours) * 100
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (s *watchlistService) sealFailed(ctx context.Context, run *models.JobRun, cause error) {
	if err := s.jobRunService.Seal(ctx, run, models.JobStatusFailed, 0, nil, cause.Error()); err != nil {
		s.logger.Error("Failed to seal failed run", zap.Error(err))
	}
}
