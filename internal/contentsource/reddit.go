// Package contentsource implements the ContentSource that fetches posts
// and their comments from a paginated upstream listing API and yields
// them as domain.RawItem values.
package contentsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tutu-network/sentinel/internal/domain"
)

// retryDelays is the fixed backoff schedule applied between attempts at
// the same upstream request: 250ms, then 1s, then 4s. A request fails
// permanently after these three retries are exhausted.
var retryDelays = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}

// Source fetches content from a Reddit-style listing API. It treats the
// upstream as opaque: callers see only the ContentSource interface.
type Source struct {
	baseURL      string
	httpClient   *http.Client
	userAgent    string
	extraHeaders map[string]string
}

// New creates a Source against baseURL (e.g. "https://www.reddit.com").
func New(baseURL string) *Source {
	return NewWithHeaders(baseURL, nil)
}

// NewWithHeaders creates a Source that also sends headers (e.g.
// forwarded SOURCE_* credentials) on every upstream request.
func NewWithHeaders(baseURL string, headers map[string]string) *Source {
	return &Source{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		userAgent:    "sentinel-content-source/1.0",
		extraHeaders: headers,
	}
}

func (s *Source) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range s.extraHeaders {
		req.Header.Set(k, v)
	}
}

// Ping performs a lightweight reachability check against the upstream
// API without consuming any pagination state, for use by health checks.
func (s *Source) Ping(ctx context.Context) error {
	req, err := http.NewRequest(http.MethodGet, s.baseURL+"/r/announcements/about.json", nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)

	resp, err := s.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("content source unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("content source returned status %d", resp.StatusCode)
	}
	return nil
}

// Fetch implements domain.ContentSource. It walks the post listing for
// params.Subreddit up to params.PostLimit posts, then for each post
// fetches up to params.CommentLimitPerPost comments. If an upstream
// request fails after all retries, Fetch returns the items already
// yielded along with a wrapped domain.ErrSourceExhausted — callers may
// still act on the partial result.
func (s *Source) Fetch(ctx context.Context, params domain.SourceParams, yield func(domain.RawItem) bool) error {
	after := ""
	posted := 0

	for posted < params.PostLimit {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := params.PostLimit - posted
		listing, nextAfter, err := s.fetchListingPage(ctx, params, after, remaining)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSourceExhausted, err)
		}
		if len(listing) == 0 {
			return nil
		}

		for _, post := range listing {
			if !yield(post) {
				return nil
			}
			posted++

			if params.CommentLimitPerPost > 0 {
				comments, err := s.fetchComments(ctx, post.ID, params.CommentLimitPerPost)
				if err != nil {
					return fmt.Errorf("%w: %v", domain.ErrSourceExhausted, err)
				}
				for _, c := range comments {
					if !yield(c) {
						return nil
					}
				}
			}

			if posted >= params.PostLimit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if nextAfter == "" {
			return nil
		}
		after = nextAfter
	}
	return nil
}

// doWithRetry performs req, retrying transient failures (network errors
// and 5xx responses) per retryDelays. 4xx responses are permanent and
// returned immediately without retrying.
func (s *Source) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := s.httpClient.Do(req.WithContext(ctx))
		if err == nil {
			if resp.StatusCode < 500 {
				return resp, nil
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt >= len(retryDelays) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}

type listingEnvelope struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data struct {
				ID            string  `json:"id"`
				Author        string  `json:"author"`
				Subreddit     string  `json:"subreddit"`
				Title         string  `json:"title"`
				Selftext      string  `json:"selftext"`
				CreatedUTC    float64 `json:"created_utc"`
				Score         int     `json:"score"`
				UpvoteRatio   float64 `json:"upvote_ratio"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (s *Source) fetchListingPage(ctx context.Context, params domain.SourceParams, after string, limit int) ([]domain.RawItem, string, error) {
	if limit > 100 {
		limit = 100
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after != "" {
		q.Set("after", after)
	}
	if params.TimeWindow != "" {
		q.Set("t", string(params.TimeWindow))
	}

	sort := string(params.Sort)
	if sort == "" {
		sort = string(domain.SortHot)
	}

	path := fmt.Sprintf("/r/%s/%s.json?%s", params.Subreddit, sort, q.Encode())
	req, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	s.setHeaders(req)

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var env listingEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, "", fmt.Errorf("decode listing: %w", err)
	}

	items := make([]domain.RawItem, 0, len(env.Data.Children))
	for _, child := range env.Data.Children {
		d := child.Data
		score := d.Score
		ratio := d.UpvoteRatio
		items = append(items, domain.RawItem{
			ID:          d.ID,
			Kind:        domain.KindPost,
			Author:      d.Author,
			Subreddit:   d.Subreddit,
			CreatedAt:   time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Title:       d.Title,
			Body:        d.Selftext,
			Score:       &score,
			UpvoteRatio: &ratio,
		})
	}
	return items, env.Data.After, nil
}

type commentEnvelope []struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				ID         string  `json:"id"`
				ParentID   string  `json:"parent_id"`
				Author     string  `json:"author"`
				Subreddit  string  `json:"subreddit"`
				Body       string  `json:"body"`
				CreatedUTC float64 `json:"created_utc"`
				Score      int     `json:"score"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (s *Source) fetchComments(ctx context.Context, postID string, limit int) ([]domain.RawItem, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	path := fmt.Sprintf("/comments/%s.json?%s", postID, q.Encode())
	req, err := http.NewRequest(http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env commentEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	if len(env) < 2 {
		return nil, nil
	}

	var items []domain.RawItem
	for _, child := range env[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		d := child.Data
		score := d.Score
		items = append(items, domain.RawItem{
			ID:        d.ID,
			Kind:      domain.KindComment,
			ParentID:  d.ParentID,
			Author:    d.Author,
			Subreddit: d.Subreddit,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Body:      d.Body,
			Score:     &score,
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}
