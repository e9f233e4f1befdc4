package services

import (
	"context"

	"github.com/osspulse/pulse-engine/pkg/github"
)

// GitHubClient is the metered upstream as the pipeline stages consume it.
// Calls reports the exact number of physical requests issued so far; budget
// accounting works on deltas of this counter, one per job run.
type GitHubClient interface {
	SearchRepositories(ctx context.Context, query string, page, perPage int) (*github.SearchResult, error)
	GetRepo(ctx context.Context, owner, name string) (*github.RepoData, error)
	CommitActivity(ctx context.Context, owner, name string) ([]github.WeekActivity, error)
	ContributorStats(ctx context.Context, owner, name string) ([]github.ContributorStat, error)
	ListContributors(ctx context.Context, owner, name string, perPage int) ([]github.Contributor, error)
	ListClosedIssues(ctx context.Context, owner, name string, perPage int) ([]github.Issue, error)
	ListIssueComments(ctx context.Context, owner, name string, number int) ([]github.Comment, error)
	SearchIssuesCount(ctx context.Context, query string) (int, error)

	Calls() int
	Stats() github.Stats
}

var _ GitHubClient = (*github.Client)(nil)
