package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/osspulse/pulse-engine/pkg/apperrors"
	"github.com/osspulse/pulse-engine/pkg/config"
	"github.com/osspulse/pulse-engine/pkg/github"
	"github.com/osspulse/pulse-engine/pkg/models"
)

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{MaxCallsPerRun: 5000, MaxEntitiesPerRun: 100}
}

func queuedRepos(names ...string) []*models.QueuedRepo {
	queued := make([]*models.QueuedRepo, len(names))
	for i, name := range names {
		queued[i] = &models.QueuedRepo{
			Repo: models.Repo{ID: uuid.New(), Owner: "org", Name: name, FullName: "org/" + name, Stars: 3000, Forks: 300},
		}
	}
	return queued
}

// healthyClient answers every metric group with plausible data. Per entity it
// spends exactly 30 calls: 2 contributors, 25 velocity, 2 responsiveness
// (one closed issue with one comment thread), 1 adoption.
func healthyClient() *mockGitHubClient {
	now := time.Now()
	weeks := make([]github.WeekActivity, 12)
	for i := range weeks {
		weeks[i] = github.WeekActivity{WeekStart: now.AddDate(0, 0, -7*(12-i)).Unix(), Total: 10 + i}
	}
	return &mockGitHubClient{
		contributorStatsFn: func(owner, name string) ([]github.ContributorStat, error) {
			return []github.ContributorStat{
				{Total: 60, Weeks: []github.ContributorWeek{{WeekStart: now.AddDate(0, 0, -7).Unix(), Commits: 5}}},
				{Total: 40, Weeks: []github.ContributorWeek{{WeekStart: now.AddDate(0, 0, -7).Unix(), Commits: 3}}},
			}, nil
		},
		listContributorsFn: func(owner, name string, perPage int) ([]github.Contributor, error) {
			return []github.Contributor{{Login: "a"}, {Login: "b"}, {Login: "c"}}, nil
		},
		commitActivityFn: func(owner, name string) ([]github.WeekActivity, error) {
			return weeks, nil
		},
		searchIssuesCountFn: func(query string) (int, error) { return 4, nil },
		listClosedIssuesFn: func(owner, name string, perPage int) ([]github.Issue, error) {
			return []github.Issue{{Number: 1, CreatedAt: now.AddDate(0, 0, -10)}}, nil
		},
		listIssueCommentsFn: func(owner, name string, number int) ([]github.Comment, error) {
			return []github.Comment{{CreatedAt: now.AddDate(0, 0, -9), AuthorAssociation: "OWNER"}}, nil
		},
		getRepoFn: func(owner, name string) (*github.RepoData, error) {
			return &github.RepoData{Stars: 3000, Forks: 300}, nil
		},
	}
}

// callsPerHealthyEntity is what healthyClient spends on one full entity.
const callsPerHealthyEntity = 30

func newTestAnalysisService(client GitHubClient, deep *mockDeepSnapshotRepository, queue *mockQueueService, runs *mockJobRunService) AnalysisService {
	return NewAnalysisService(client, deep, queue, runs, testAnalysisConfig(), zap.NewNop())
}

func TestAnalysisService_Run_AnalyzesQueueInOrder(t *testing.T) {
	client := healthyClient()
	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("alpha", "beta")}
	runs := &mockJobRunService{}

	stats, err := newTestAnalysisService(client, deep, queue, runs).Run(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, stats.Status)
	assert.Equal(t, 2, stats.EntitiesPulled)
	assert.Equal(t, 2, stats.EntitiesAnalyzed)
	assert.Equal(t, 2*callsPerHealthyEntity, stats.CallsUsed)
	require.Len(t, deep.created, 2, "exactly one deep snapshot per entity per run")
	assert.Len(t, queue.analyzed, 2)
	assert.Equal(t, models.JobStatusCompleted, runs.sealedStatus)
	assert.Equal(t, stats.CallsUsed, runs.sealedCalls)
}

func TestAnalysisService_Run_StopsBeforeBudgetOverrun(t *testing.T) {
	// After the first entity 30 calls are spent. The next entity would
	// declare entityCost more, overshooting maxCalls=80, so the run stops
	// with exactly 30 used and only fully completed entities counted.
	client := healthyClient()
	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("first", "second")}
	runs := &mockJobRunService{}

	stats, err := newTestAnalysisService(client, deep, queue, runs).Run(context.Background(), 80, 10)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, stats.Status)
	assert.Equal(t, 1, stats.EntitiesAnalyzed)
	assert.Equal(t, callsPerHealthyEntity, stats.CallsUsed)
	assert.Equal(t, "budget", stats.StoppedReason)
	assert.LessOrEqual(t, stats.CallsUsed, 80)
	assert.Len(t, deep.created, 1)
}

func TestAnalysisService_Run_NeverStartsUnaffordableEntity(t *testing.T) {
	// maxCalls below one entity's declared cost: nothing may be attempted.
	client := healthyClient()
	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("first")}

	stats, err := newTestAnalysisService(client, deep, queue, &mockJobRunService{}).Run(context.Background(), entityCost-1, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.EntitiesAnalyzed)
	assert.Equal(t, 0, stats.CallsUsed)
	assert.Equal(t, "budget", stats.StoppedReason)
	assert.Empty(t, deep.created)
}

func TestAnalysisService_Run_QuotaAbortsButKeepsCommittedEntities(t *testing.T) {
	client := healthyClient()
	entity := 0
	base := client.contributorStatsFn
	client.contributorStatsFn = func(owner, name string) ([]github.ContributorStat, error) {
		entity++
		if entity > 1 {
			return nil, fmt.Errorf("core quota at floor: %w", apperrors.ErrQuotaExhausted)
		}
		return base(owner, name)
	}
	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("done", "victim")}
	runs := &mockJobRunService{}

	stats, err := newTestAnalysisService(client, deep, queue, runs).Run(context.Background(), 0, 0)
	require.NoError(t, err, "quota exhaustion is partial success")

	assert.Equal(t, models.JobStatusAborted, stats.Status)
	assert.Equal(t, "quota", stats.StoppedReason)
	assert.Equal(t, 1, stats.EntitiesAnalyzed)
	assert.Len(t, deep.created, 1, "entities analyzed before the floor stay committed")
	assert.Equal(t, models.JobStatusAborted, runs.sealedStatus)
}

func TestAnalysisService_Run_GroupFailureIsIsolated(t *testing.T) {
	client := healthyClient()
	client.contributorStatsFn = func(owner, name string) ([]github.ContributorStat, error) {
		return nil, errors.New("boom")
	}
	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("resilient")}

	stats, err := newTestAnalysisService(client, deep, queue, &mockJobRunService{}).Run(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.EntitiesAnalyzed)
	require.Len(t, deep.created, 1)
	snap := deep.created[0]

	// The broken group is recorded as an error with a reason.
	assert.Equal(t, models.AvailabilityError, snap.Contributors.TopShare.Status())
	assert.NotEmpty(t, snap.Contributors.TopShare.Reason())

	// The other groups proceeded independently.
	assert.Equal(t, models.AvailabilityAvailable, snap.Velocity.CommitTrendSlope.Status())
	assert.Equal(t, models.AvailabilityAvailable, snap.Adoption.ForkToStarRatio.Status())
	assert.Len(t, queue.analyzed, 1, "a degraded entity still counts as analyzed")
}

func TestAnalysisService_Run_CancellationSealsPartialRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deep := newMockDeepSnapshotRepository()
	queue := &mockQueueService{pulled: queuedRepos("never")}
	runs := &mockJobRunService{}

	stats, err := newTestAnalysisService(healthyClient(), deep, queue, runs).Run(ctx, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusAborted, stats.Status)
	assert.Equal(t, "cancelled", stats.StoppedReason)
	assert.Equal(t, 0, stats.EntitiesAnalyzed)
	assert.Equal(t, 1, runs.sealCount, "cancelled runs must still be sealed")
}

func TestAnalysisService_Run_PersistenceFailuresSkipThenAbort(t *testing.T) {
	client := healthyClient()
	deep := newMockDeepSnapshotRepository()
	deep.createErr = errors.New("disk on fire")
	queue := &mockQueueService{pulled: queuedRepos("a", "b", "c", "d")}
	runs := &mockJobRunService{}

	stats, err := newTestAnalysisService(client, deep, queue, runs).Run(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusFailed, stats.Status)
	assert.Equal(t, maxConsecutivePersistFailures, stats.EntitiesSkipped)
	assert.Equal(t, 0, stats.EntitiesAnalyzed)
	assert.Empty(t, queue.analyzed)
}

func TestAnalysisService_Run_RunAlreadyOpen(t *testing.T) {
	runs := &mockJobRunService{beginErr: apperrors.ErrRunInProgress}
	svc := newTestAnalysisService(healthyClient(), newMockDeepSnapshotRepository(), &mockQueueService{}, runs)

	_, err := svc.Run(context.Background(), 0, 0)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)
}
