package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/models"
)

// mockGitHubClient is a configurable mock for the metered upstream. It
// counts invocations the way the real client counts physical requests,
// except for quota-floor failures, which the real client raises before
// issuing any request.
type mockGitHubClient struct {
	mu    sync.Mutex
	calls int

	searchFn            func(query string, page, perPage int) (*github.SearchResult, error)
	getRepoFn           func(owner, name string) (*github.RepoData, error)
	commitActivityFn    func(owner, name string) ([]github.WeekActivity, error)
	contributorStatsFn  func(owner, name string) ([]github.ContributorStat, error)
	listContributorsFn  func(owner, name string, perPage int) ([]github.Contributor, error)
	listClosedIssuesFn  func(owner, name string, perPage int) ([]github.Issue, error)
	listIssueCommentsFn func(owner, name string, number int) ([]github.Comment, error)
	searchIssuesCountFn func(query string) (int, error)
}

func (m *mockGitHubClient) record(err error) {
	if errors.Is(err, apperrors.ErrQuotaExhausted) {
		return
	}
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
}

func (m *mockGitHubClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockGitHubClient) Stats() github.Stats {
	return github.Stats{Calls: m.Calls(), CoreRemaining: -1, SearchRemaining: -1}
}

func (m *mockGitHubClient) SearchRepositories(ctx context.Context, query string, page, perPage int) (*github.SearchResult, error) {
	if m.searchFn == nil {
		m.record(nil)
		return &github.SearchResult{}, nil
	}
	result, err := m.searchFn(query, page, perPage)
	m.record(err)
	return result, err
}

func (m *mockGitHubClient) GetRepo(ctx context.Context, owner, name string) (*github.RepoData, error) {
	if m.getRepoFn == nil {
		m.record(nil)
		return &github.RepoData{}, nil
	}
	data, err := m.getRepoFn(owner, name)
	m.record(err)
	return data, err
}

func (m *mockGitHubClient) CommitActivity(ctx context.Context, owner, name string) ([]github.WeekActivity, error) {
	if m.commitActivityFn == nil {
		m.record(nil)
		return nil, nil
	}
	weeks, err := m.commitActivityFn(owner, name)
	m.record(err)
	return weeks, err
}

func (m *mockGitHubClient) ContributorStats(ctx context.Context, owner, name string) ([]github.ContributorStat, error) {
	if m.contributorStatsFn == nil {
		m.record(nil)
		return nil, nil
	}
	stats, err := m.contributorStatsFn(owner, name)
	m.record(err)
	return stats, err
}

func (m *mockGitHubClient) ListContributors(ctx context.Context, owner, name string, perPage int) ([]github.Contributor, error) {
	if m.listContributorsFn == nil {
		m.record(nil)
		return nil, nil
	}
	contributors, err := m.listContributorsFn(owner, name, perPage)
	m.record(err)
	return contributors, err
}

func (m *mockGitHubClient) ListClosedIssues(ctx context.Context, owner, name string, perPage int) ([]github.Issue, error) {
	if m.listClosedIssuesFn == nil {
		m.record(nil)
		return nil, nil
	}
	issues, err := m.listClosedIssuesFn(owner, name, perPage)
	m.record(err)
	return issues, err
}

func (m *mockGitHubClient) ListIssueComments(ctx context.Context, owner, name string, number int) ([]github.Comment, error) {
	if m.listIssueCommentsFn == nil {
		m.record(nil)
		return nil, nil
	}
	comments, err := m.listIssueCommentsFn(owner, name, number)
	m.record(err)
	return comments, err
}

func (m *mockGitHubClient) SearchIssuesCount(ctx context.Context, query string) (int, error) {
	if m.searchIssuesCountFn == nil {
		m.record(nil)
		return 0, nil
	}
	count, err := m.searchIssuesCountFn(query)
	m.record(err)
	return count, err
}

// mockRepoRepository is a configurable in-memory RepoRepository.
type mockRepoRepository struct {
	byGitHubID map[int64]*models.Repo

	upsertErr      error
	upsertFailFor  map[string]error // keyed by full name
	listEligible   []*models.Repo
	listErr        error
	markedExcept   [][]int64
	markIneligible int
}

func newMockRepoRepository() *mockRepoRepository {
	return &mockRepoRepository{byGitHubID: make(map[int64]*models.Repo)}
}

func (m *mockRepoRepository) Upsert(ctx context.Context, repo *models.Repo) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if err, ok := m.upsertFailFor[repo.FullName]; ok {
		return err
	}
	if existing, ok := m.byGitHubID[repo.GitHubID]; ok {
		repo.ID = existing.ID
		repo.FirstDiscoveredAt = existing.FirstDiscoveredAt
	} else {
		repo.ID = uuid.New()
		repo.FirstDiscoveredAt = time.Now()
	}
	copied := *repo
	m.byGitHubID[repo.GitHubID] = &copied
	return nil
}

func (m *mockRepoRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Repo, error) {
	for _, repo := range m.byGitHubID {
		if repo.ID == id {
			return repo, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRepoRepository) GetByGitHubID(ctx context.Context, githubID int64) (*models.Repo, error) {
	if repo, ok := m.byGitHubID[githubID]; ok {
		return repo, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockRepoRepository) ListEligible(ctx context.Context) ([]*models.Repo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.listEligible != nil {
		return m.listEligible, nil
	}
	var eligible []*models.Repo
	for _, repo := range m.byGitHubID {
		if repo.Eligible {
			eligible = append(eligible, repo)
		}
	}
	return eligible, nil
}

func (m *mockRepoRepository) ListEligibleGitHubIDs(ctx context.Context) ([]int64, error) {
	repos, err := m.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(repos))
	for _, repo := range repos {
		ids = append(ids, repo.GitHubID)
	}
	return ids, nil
}

func (m *mockRepoRepository) MarkIneligibleExcept(ctx context.Context, seen []int64) (int, error) {
	m.markedExcept = append(m.markedExcept, seen)
	keep := make(map[int64]bool, len(seen))
	for _, id := range seen {
		keep[id] = true
	}
	marked := 0
	for id, repo := range m.byGitHubID {
		if repo.Eligible && !keep[id] {
			repo.Eligible = false
			marked++
		}
	}
	m.markIneligible += marked
	return marked, nil
}

// mockDiscoverySnapshotRepository records created snapshots and serves
// canned history.
type mockDiscoverySnapshotRepository struct {
	created []*models.DiscoverySnapshot

	recentByRepo map[uuid.UUID][]*models.DiscoverySnapshot
	crossings    map[uuid.UUID]*models.DiscoverySnapshot
	createErr    error
}

func newMockDiscoverySnapshotRepository() *mockDiscoverySnapshotRepository {
	return &mockDiscoverySnapshotRepository{
		recentByRepo: make(map[uuid.UUID][]*models.DiscoverySnapshot),
		crossings:    make(map[uuid.UUID]*models.DiscoverySnapshot),
	}
}

func (m *mockDiscoverySnapshotRepository) Create(ctx context.Context, snap *models.DiscoverySnapshot) error {
	if m.createErr != nil {
		return m.createErr
	}
	snap.ID = uuid.New()
	m.created = append(m.created, snap)
	return nil
}

func (m *mockDiscoverySnapshotRepository) ListRecentByRepo(ctx context.Context, repoID uuid.UUID, limit int) ([]*models.DiscoverySnapshot, error) {
	snaps := m.recentByRepo[repoID]
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (m *mockDiscoverySnapshotRepository) FirstCrossing(ctx context.Context, repoID uuid.UUID, minStars int) (*models.DiscoverySnapshot, error) {
	if snap, ok := m.crossings[repoID]; ok {
		return snap, nil
	}
	return nil, apperrors.ErrNotFound
}

// mockDeepSnapshotRepository records created snapshots.
type mockDeepSnapshotRepository struct {
	created   []*models.DeepSnapshot
	latest    map[uuid.UUID]*models.DeepSnapshot
	createErr error
}

func newMockDeepSnapshotRepository() *mockDeepSnapshotRepository {
	return &mockDeepSnapshotRepository{latest: make(map[uuid.UUID]*models.DeepSnapshot)}
}

func (m *mockDeepSnapshotRepository) Create(ctx context.Context, snap *models.DeepSnapshot) error {
	if m.createErr != nil {
		return m.createErr
	}
	snap.ID = uuid.New()
	m.created = append(m.created, snap)
	m.latest[snap.RepoID] = snap
	return nil
}

func (m *mockDeepSnapshotRepository) LatestByRepo(ctx context.Context, repoID uuid.UUID) (*models.DeepSnapshot, error) {
	if snap, ok := m.latest[repoID]; ok {
		return snap, nil
	}
	return nil, apperrors.ErrNotFound
}

// mockQueueRepository is a configurable in-memory QueueRepository.
type mockQueueRepository struct {
	entries      map[uuid.UUID]*models.QueueEntry
	pulled       []*models.QueuedRepo
	deleted      int
	lastAnalyzed map[uuid.UUID]*time.Time
}

func newMockQueueRepository() *mockQueueRepository {
	return &mockQueueRepository{
		entries:      make(map[uuid.UUID]*models.QueueEntry),
		lastAnalyzed: make(map[uuid.UUID]*time.Time),
	}
}

func (m *mockQueueRepository) Upsert(ctx context.Context, entry *models.QueueEntry) error {
	if existing, ok := m.entries[entry.RepoID]; ok {
		entry.ID = existing.ID
		entry.EnqueuedAt = existing.EnqueuedAt
		entry.LastAnalyzedAt = existing.LastAnalyzedAt
	} else {
		entry.ID = uuid.New()
		if entry.EnqueuedAt.IsZero() {
			entry.EnqueuedAt = time.Now()
		}
	}
	copied := *entry
	m.entries[entry.RepoID] = &copied
	return nil
}

func (m *mockQueueRepository) DeleteIneligible(ctx context.Context) (int, error) {
	return m.deleted, nil
}

func (m *mockQueueRepository) Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error) {
	if len(m.pulled) > n {
		return m.pulled[:n], nil
	}
	return m.pulled, nil
}

func (m *mockQueueRepository) MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error {
	if entry, ok := m.entries[repoID]; ok {
		entry.LastAnalyzedAt = &at
	}
	m.lastAnalyzed[repoID] = &at
	return nil
}

func (m *mockQueueRepository) Summary(ctx context.Context) (*models.QueueSummary, error) {
	summary := &models.QueueSummary{ByPriority: make(map[int]int)}
	for _, entry := range m.entries {
		summary.Total++
		summary.ByPriority[entry.Priority]++
		if entry.LastAnalyzedAt == nil {
			summary.NeverAnalyzed++
		}
	}
	return summary, nil
}

func (m *mockQueueRepository) LastAnalyzedTimes(ctx context.Context) (map[uuid.UUID]*time.Time, error) {
	times := make(map[uuid.UUID]*time.Time, len(m.entries))
	for repoID, entry := range m.entries {
		times[repoID] = entry.LastAnalyzedAt
	}
	return times, nil
}

// mockQueueService stubs the queue for the analyzer and discoverer.
type mockQueueService struct {
	pulled     []*models.QueuedRepo
	pullErr    error
	refreshed  int
	refreshErr error
	analyzed   []uuid.UUID
}

func (m *mockQueueService) Refresh(ctx context.Context) (*QueueStats, error) {
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	m.refreshed++
	return &QueueStats{ByPriority: map[int]int{}}, nil
}

func (m *mockQueueService) RefreshTracked(ctx context.Context) (*QueueStats, error) {
	return m.Refresh(ctx)
}

func (m *mockQueueService) Pull(ctx context.Context, n int) ([]*models.QueuedRepo, error) {
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	if len(m.pulled) > n {
		return m.pulled[:n], nil
	}
	return m.pulled, nil
}

func (m *mockQueueService) MarkAnalyzed(ctx context.Context, repoID uuid.UUID, at time.Time) error {
	m.analyzed = append(m.analyzed, repoID)
	return nil
}

func (m *mockQueueService) Summary(ctx context.Context) (*models.QueueSummary, error) {
	return &models.QueueSummary{ByPriority: map[int]int{}}, nil
}

// mockJobRunService records run lifecycles without a database.
type mockJobRunService struct {
	beginErr error

	begun        []*models.JobRun
	sealedStatus models.JobStatus
	sealedCalls  int
	sealedStats  map[string]any
	sealedErrMsg string
	sealCount    int
}

func (m *mockJobRunService) Begin(ctx context.Context, jobType models.JobType) (*models.JobRun, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	run := &models.JobRun{
		ID:        uuid.New(),
		JobType:   jobType,
		StartedAt: time.Now(),
		Status:    models.JobStatusRunning,
	}
	m.begun = append(m.begun, run)
	return run, nil
}

func (m *mockJobRunService) Seal(ctx context.Context, run *models.JobRun, status models.JobStatus, callsUsed int, stats map[string]any, errMsg string) error {
	m.sealCount++
	m.sealedStatus = status
	m.sealedCalls = callsUsed
	m.sealedStats = stats
	m.sealedErrMsg = errMsg
	run.Status = status
	return nil
}

func (m *mockJobRunService) ListRecent(ctx context.Context, limit int) ([]*models.JobRun, error) {
	return m.begun, nil
}

// mockWatchlistRepository records written generations.
type mockWatchlistRepository struct {
	generations map[time.Time][]*models.WatchlistEntry
	latest      []*models.ScoredRepo
	createErr   error
}

func newMockWatchlistRepository() *mockWatchlistRepository {
	return &mockWatchlistRepository{generations: make(map[time.Time][]*models.WatchlistEntry)}
}

func (m *mockWatchlistRepository) CreateGeneration(ctx context.Context, generatedAt time.Time, entries []*models.WatchlistEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, entry := range entries {
		entry.GeneratedAt = generatedAt
	}
	m.generations[generatedAt] = entries
	return nil
}

func (m *mockWatchlistRepository) LatestGeneration(ctx context.Context) ([]*models.ScoredRepo, error) {
	return m.latest, nil
}
