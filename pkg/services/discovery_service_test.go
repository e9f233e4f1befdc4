package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/models"
)

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		MinStars:         2000,
		MaxAgeMonths:     24,
		MaxDaysSincePush: 90,
		MaxSearchPages:   10,
	}
}

func candidateRepo(id int64, fullName string, stars int, createdAt, pushedAt time.Time) github.RepoData {
	return github.RepoData{
		ID:        id,
		Name:      fullName,
		FullName:  fullName,
		Owner:     github.RepoOwner{Login: "owner"},
		Stars:     stars,
		CreatedAt: createdAt,
		PushedAt:  pushedAt,
	}
}

func newTestDiscoveryService(client GitHubClient, repoRepo *mockRepoRepository, snapRepo *mockDiscoverySnapshotRepository, queue *mockQueueService, runs *mockJobRunService) DiscoveryService {
	return NewDiscoveryService(client, repoRepo, snapRepo, queue, runs, testDiscoveryConfig(), zap.NewNop())
}

func TestDiscoveryService_Discover_RecordsCandidates(t *testing.T) {
	now := time.Now()
	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{Items: []github.RepoData{
				candidateRepo(1, "fast/rocket", 5000, now.AddDate(0, -6, 0), now.AddDate(0, 0, -1)),
				candidateRepo(2, "slow/snail", 2100, now.AddDate(0, -12, 0), now.AddDate(0, 0, -5)),
			}}, nil
		},
	}
	repoRepo := newMockRepoRepository()
	snapRepo := newMockDiscoverySnapshotRepository()
	queue := &mockQueueService{}
	runs := &mockJobRunService{}

	stats, err := newTestDiscoveryService(client, repoRepo, snapRepo, queue, runs).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, stats.Status)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 2, stats.Eligible)
	assert.Equal(t, 2, stats.NewlyEligible)
	assert.Len(t, snapRepo.created, 2)
	assert.Equal(t, 1, queue.refreshed, "sweep must end with a queue refresh")
	assert.Equal(t, models.JobStatusCompleted, runs.sealedStatus)
	assert.Equal(t, stats.CallsUsed, runs.sealedCalls)
}

func TestDiscoveryService_Discover_OldRepoExcludedDespiteStars(t *testing.T) {
	// 30 months old with 5000 stars: the star threshold passes but the age
	// window does not, so the repo must not enter the eligible set.
	now := time.Now()
	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{Items: []github.RepoData{
				candidateRepo(7, "old/titan", 5000, now.AddDate(0, -30, 0), now.AddDate(0, 0, -1)),
			}}, nil
		},
	}
	repoRepo := newMockRepoRepository()
	snapRepo := newMockDiscoverySnapshotRepository()

	stats, err := newTestDiscoveryService(client, repoRepo, snapRepo, &mockQueueService{}, &mockJobRunService{}).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 0, stats.Eligible)
	assert.Equal(t, 0, stats.NewlyEligible)

	stored, err := repoRepo.GetByGitHubID(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, stored.Eligible)

	// The snapshot still records the verdict and its inputs.
	require.Len(t, snapRepo.created, 1)
	assert.False(t, snapRepo.created[0].Eligible)
	assert.Equal(t, 5000, snapRepo.created[0].Stars)
}

func TestDiscoveryService_Discover_QuotaAbortYieldsPartialStats(t *testing.T) {
	now := time.Now()
	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			if page > 1 {
				return nil, apperrors.ErrQuotaExhausted
			}
			items := make([]github.RepoData, perPage)
			for i := range items {
				items[i] = candidateRepo(int64(i+1), "org/repo", 3000, now.AddDate(0, -3, 0), now)
			}
			return &github.SearchResult{Items: items}, nil
		},
	}
	repoRepo := newMockRepoRepository()
	runs := &mockJobRunService{}

	stats, err := newTestDiscoveryService(client, repoRepo, newMockDiscoverySnapshotRepository(), &mockQueueService{}, runs).Discover(context.Background())
	require.NoError(t, err, "quota exhaustion is partial success, not failure")

	assert.Equal(t, models.JobStatusAborted, stats.Status)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, searchPageSize, stats.Candidates)
	assert.Equal(t, models.JobStatusAborted, runs.sealedStatus)

	// A truncated sweep cannot tell absent from unvisited, so nothing is
	// demoted.
	assert.Empty(t, repoRepo.markedExcept)
}

func TestDiscoveryService_Discover_SkipsBrokenCandidate(t *testing.T) {
	now := time.Now()
	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{Items: []github.RepoData{
				candidateRepo(1, "good/one", 3000, now.AddDate(0, -3, 0), now),
				candidateRepo(2, "bad/apple", 3000, now.AddDate(0, -3, 0), now),
				candidateRepo(3, "good/two", 3000, now.AddDate(0, -3, 0), now),
			}}, nil
		},
	}
	repoRepo := newMockRepoRepository()
	repoRepo.upsertFailFor = map[string]error{"bad/apple": errors.New("write failed")}

	stats, err := newTestDiscoveryService(client, repoRepo, newMockDiscoverySnapshotRepository(), &mockQueueService{}, &mockJobRunService{}).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, stats.Status)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 1, stats.Skipped)
}

func TestDiscoveryService_Discover_SecondSweepIsIdempotent(t *testing.T) {
	now := time.Now()
	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{Items: []github.RepoData{
				candidateRepo(1, "steady/ship", 3000, now.AddDate(0, -3, 0), now),
			}}, nil
		},
	}
	repoRepo := newMockRepoRepository()
	snapRepo := newMockDiscoverySnapshotRepository()
	svc := newTestDiscoveryService(client, repoRepo, snapRepo, &mockQueueService{}, &mockJobRunService{})

	first, err := svc.Discover(context.Background())
	require.NoError(t, err)
	firstID := repoRepo.byGitHubID[1].ID

	second, err := svc.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.NewlyEligible)
	assert.Equal(t, 0, second.NewlyEligible, "unchanged upstream must not re-report")
	assert.Equal(t, firstID, repoRepo.byGitHubID[1].ID, "upsert must preserve identity")
	assert.Len(t, snapRepo.created, 2, "exactly one new snapshot per run")
}

func TestDiscoveryService_Discover_DropsVanishedRepos(t *testing.T) {
	now := time.Now()
	repoRepo := newMockRepoRepository()
	require.NoError(t, repoRepo.Upsert(context.Background(), &models.Repo{
		GitHubID: 99, FullName: "gone/ghost", Eligible: true,
	}))

	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{Items: []github.RepoData{
				candidateRepo(1, "still/here", 3000, now.AddDate(0, -3, 0), now),
			}}, nil
		},
	}

	stats, err := newTestDiscoveryService(client, repoRepo, newMockDiscoverySnapshotRepository(), &mockQueueService{}, &mockJobRunService{}).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.NewlyIneligible)
	assert.False(t, repoRepo.byGitHubID[99].Eligible)
}

func TestDiscoveryService_Discover_IncompleteResultsNeverDemote(t *testing.T) {
	// GitHub sets incomplete_results when the search timed out upstream.
	// Absence from such a sweep proves nothing, so no repo may be demoted.
	now := time.Now()
	repoRepo := newMockRepoRepository()
	require.NoError(t, repoRepo.Upsert(context.Background(), &models.Repo{
		GitHubID: 99, FullName: "missed/bytimeout", Eligible: true,
	}))

	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{
				IncompleteResults: true,
				Items: []github.RepoData{
					candidateRepo(1, "still/here", 3000, now.AddDate(0, -3, 0), now),
				},
			}, nil
		},
	}

	stats, err := newTestDiscoveryService(client, repoRepo, newMockDiscoverySnapshotRepository(), &mockQueueService{}, &mockJobRunService{}).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Candidates, "returned candidates are still recorded")
	assert.Equal(t, 0, stats.NewlyIneligible)
	assert.Empty(t, repoRepo.markedExcept)
	assert.True(t, repoRepo.byGitHubID[99].Eligible)
}

func TestDiscoveryService_Discover_EmptyUniverseNeverDemotes(t *testing.T) {
	// A sweep that saw nothing at all must not mark the whole universe
	// ineligible.
	repoRepo := newMockRepoRepository()
	require.NoError(t, repoRepo.Upsert(context.Background(), &models.Repo{
		GitHubID: 99, FullName: "lone/survivor", Eligible: true,
	}))

	client := &mockGitHubClient{
		searchFn: func(query string, page, perPage int) (*github.SearchResult, error) {
			return &github.SearchResult{}, nil
		},
	}

	stats, err := newTestDiscoveryService(client, repoRepo, newMockDiscoverySnapshotRepository(), &mockQueueService{}, &mockJobRunService{}).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Candidates)
	assert.Empty(t, repoRepo.markedExcept)
	assert.True(t, repoRepo.byGitHubID[99].Eligible)
}

func TestDiscoveryService_Discover_RunAlreadyOpen(t *testing.T) {
	runs := &mockJobRunService{beginErr: apperrors.ErrRunInProgress}
	svc := newTestDiscoveryService(&mockGitHubClient{}, newMockRepoRepository(), newMockDiscoverySnapshotRepository(), &mockQueueService{}, runs)

	_, err := svc.Discover(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)
}
