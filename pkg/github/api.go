package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RepoData is the subset of the repository payload the pipeline consumes.
type RepoData struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Owner       RepoOwner `json:"owner"`
	Language    string    `json:"language"`
	Description string    `json:"description"`
	Homepage    string    `json:"homepage"`
	Topics      []string  `json:"topics"`
	License     *License  `json:"license"`

	Stars      int  `json:"stargazers_count"`
	Forks      int  `json:"forks_count"`
	OpenIssues int  `json:"open_issues_count"`
	Watchers   int  `json:"watchers_count"`
	Archived   bool `json:"archived"`
	Fork       bool `json:"fork"`

	CreatedAt time.Time `json:"created_at"`
	PushedAt  time.Time `json:"pushed_at"`
}

// RepoOwner identifies the account owning a repository.
type RepoOwner struct {
	Login string `json:"login"`
}

// License carries the SPDX identifier of a repository license.
type License struct {
	SPDXID string `json:"spdx_id"`
}

// SearchResult is one page of a repository search. IncompleteResults is set
// when the search timed out upstream and the page is missing matches.
type SearchResult struct {
	TotalCount        int        `json:"total_count"`
	IncompleteResults bool       `json:"incomplete_results"`
	Items             []RepoData `json:"items"`
}

// WeekActivity is one week of the commit-activity statistics endpoint.
type WeekActivity struct {
	WeekStart int64 `json:"week"` // unix timestamp
	Total     int   `json:"total"`
}

// ContributorStat is one contributor's all-time totals with per-week detail.
// GitHub returns these for at most the top 100 contributors.
type ContributorStat struct {
	Total int               `json:"total"`
	Weeks []ContributorWeek `json:"weeks"`
}

// ContributorWeek is one week of a single contributor's commit counts.
type ContributorWeek struct {
	WeekStart int64 `json:"w"` // unix timestamp
	Commits   int   `json:"c"`
}

// Contributor is one row of the contributors listing.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// Issue is the subset of an issue (or PR) payload used for responsiveness.
type Issue struct {
	Number      int       `json:"number"`
	CreatedAt   time.Time `json:"created_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"` // present only on PRs
}

// IsPullRequest reports whether the issue row is actually a pull request.
func (i Issue) IsPullRequest() bool { return i.PullRequest != nil }

// Comment is one issue/PR comment with the commenter's repo association.
type Comment struct {
	CreatedAt         time.Time `json:"created_at"`
	AuthorAssociation string    `json:"author_association"`
}

// IsMaintainer reports whether the comment author maintains the repository.
func (c Comment) IsMaintainer() bool {
	switch c.AuthorAssociation {
	case "OWNER", "MEMBER", "COLLABORATOR":
		return true
	}
	return false
}

// issueSearchResult carries only the total count of an issue search.
type issueSearchResult struct {
	TotalCount int `json:"total_count"`
}

// SearchRepositories fetches one page of repository search results, sorted
// by stars descending.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int) (*SearchResult, error) {
	params := url.Values{
		"q":        {query},
		"sort":     {"stars"},
		"order":    {"desc"},
		"per_page": {strconv.Itoa(perPage)},
		"page":     {strconv.Itoa(page)},
	}
	var result SearchResult
	if err := c.Get(ctx, "search/repositories", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRepo fetches a single repository.
func (c *Client) GetRepo(ctx context.Context, owner, name string) (*RepoData, error) {
	var repo RepoData
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s", owner, name), nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// CommitActivity fetches the last 52 weeks of commit counts. GitHub computes
// these statistics lazily, so the slice may be empty for cold repositories.
func (c *Client) CommitActivity(ctx context.Context, owner, name string) ([]WeekActivity, error) {
	var weeks []WeekActivity
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/stats/commit_activity", owner, name), nil, &weeks); err != nil {
		return nil, err
	}
	return weeks, nil
}

// ContributorStats fetches all-time per-contributor commit totals.
func (c *Client) ContributorStats(ctx context.Context, owner, name string) ([]ContributorStat, error) {
	var stats []ContributorStat
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/stats/contributors", owner, name), nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ListContributors fetches one page of the contributors listing, anonymous
// contributors included. Unlike ContributorStats this endpoint is not capped
// at the top 100, so it gives a better total headcount.
func (c *Client) ListContributors(ctx context.Context, owner, name string, perPage int) ([]Contributor, error) {
	params := url.Values{
		"per_page": {strconv.Itoa(perPage)},
		"anon":     {"true"},
	}
	var contributors []Contributor
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/contributors", owner, name), params, &contributors); err != nil {
		return nil, err
	}
	return contributors, nil
}

// ListClosedIssues fetches recently updated closed issues and PRs.
func (c *Client) ListClosedIssues(ctx context.Context, owner, name string, perPage int) ([]Issue, error) {
	params := url.Values{
		"state":     {"closed"},
		"per_page":  {strconv.Itoa(perPage)},
		"sort":      {"updated"},
		"direction": {"desc"},
	}
	var issues []Issue
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/issues", owner, name), params, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// ListIssueComments fetches the comments of one issue or PR.
func (c *Client) ListIssueComments(ctx context.Context, owner, name string, number int) ([]Comment, error) {
	var comments []Comment
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s/issues/%d/comments", owner, name, number), nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// SearchIssuesCount returns the total hit count for an issue search query.
func (c *Client) SearchIssuesCount(ctx context.Context, query string) (int, error) {
	params := url.Values{
		"q":        {query},
		"per_page": {"1"},
	}
	var result issueSearchResult
	if err := c.Get(ctx, "search/issues", params, &result); err != nil {
		return 0, err
	}
	return result.TotalCount, nil
}
