package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ZebulonRouseFrantzich/crio-get/internal/fetch"
	"github.com/ZebulonRouseFrantzich/crio-get/internal/logger"
)

const (
	// DefaultAPIURL lists workflow runs of the cri-o repository.
	DefaultAPIURL = "https://api.github.com/repos/cri-o/cri-o/actions/runs"
	// DefaultMaxPages bounds build-status discovery.
	DefaultMaxPages = 50
	// PerPage is the page size requested from the build-status API.
	PerPage = 100
	// MarkerName is the object holding the latest main build.
	MarkerName = "latest-main.txt"

	// Criteria for a qualifying run.
	WorkflowName      = "test"
	DefaultBranch     = "main"
	ConclusionSuccess = "success"

	unauthenticatedRate = 1
	authenticatedRate   = 10
	rateBurst           = 3
)

var (
	// ErrNoQualifyingRun is returned when the run list ends without a match.
	ErrNoQualifyingRun = errors.New("no successful build found")
	// ErrPageLimit is returned when MaxPages pages held no match.
	ErrPageLimit = errors.New("page limit reached")
)

// ResolutionError reports that no build identifier could be determined.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return "resolve version: " + e.Reason
	}
	return fmt.Sprintf("resolve version: %s: %v", e.Reason, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// BuildRun is one entry of the build-status API run list.
type BuildRun struct {
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
}

// Qualifies reports whether the run is a successful test run on main.
func (r BuildRun) Qualifies() bool {
	return r.Name == WorkflowName && r.HeadBranch == DefaultBranch && r.Conclusion == ConclusionSuccess
}

type runsPage struct {
	WorkflowRuns []BuildRun `json:"workflow_runs"`
}

// FindRun returns the first qualifying run in API order.
func FindRun(runs []BuildRun) (BuildRun, bool) {
	for _, run := range runs {
		if run.Qualifies() {
			return run, true
		}
	}
	return BuildRun{}, false
}

// Getter fetches a remote object. *fetch.Fetcher implements it.
type Getter interface {
	Fetch(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// Resolver determines the build identifier to install.
type Resolver struct {
	getter   Getter
	baseURL  string
	apiURL   string
	token    string
	maxPages int
	limiter  *rate.Limiter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAPIURL overrides the build-status endpoint.
func WithAPIURL(u string) Option {
	return func(r *Resolver) {
		if u != "" {
			r.apiURL = u
		}
	}
}

// WithToken attaches a bearer token to build-status requests.
func WithToken(token string) Option {
	return func(r *Resolver) {
		r.token = strings.TrimSpace(token)
	}
}

// WithMaxPages bounds how many run pages are examined.
func WithMaxPages(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxPages = n
		}
	}
}

// WithLimiter replaces the request pacing of the build-status API.
func WithLimiter(l *rate.Limiter) Option {
	return func(r *Resolver) {
		r.limiter = l
	}
}

// NewResolver creates a Resolver reading the marker below baseURL.
func NewResolver(getter Getter, baseURL string, opts ...Option) *Resolver {
	r := &Resolver{
		getter:   getter,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiURL:   DefaultAPIURL,
		maxPages: DefaultMaxPages,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.limiter == nil {
		limit := rate.Limit(unauthenticatedRate)
		if r.token != "" {
			limit = rate.Limit(authenticatedRate)
		}
		r.limiter = rate.NewLimiter(limit, rateBurst)
	}

	return r
}

// Resolve returns explicit when it is set, else the marker content, else
// the head commit of the newest qualifying build run.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		logger.DebugKV(ctx, "Using explicit version", "version", explicit, "kind", Classify(explicit))
		return explicit, nil
	}

	v, ok, err := r.marker(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		logger.InfoKV(ctx, "Resolved version from marker", "version", v, "kind", Classify(v))
		return v, nil
	}

	v, err = r.discover(ctx)
	if err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Resolved version from build status", "version", v)
	return v, nil
}

// MarkerURL returns the location of the latest marker.
func (r *Resolver) MarkerURL() string {
	return r.baseURL + "/" + MarkerName
}

// marker reads the latest marker. Absence is not an error.
func (r *Resolver) marker(ctx context.Context) (string, bool, error) {
	body, err := r.getter.Fetch(ctx, r.MarkerURL(), nil)
	if err != nil {
		if fetch.IsAbsent(err) {
			logger.DebugKV(ctx, "Latest marker absent", "url", r.MarkerURL(), "error", err)
			return "", false, nil
		}
		return "", false, fmt.Errorf("read latest marker: %w", err)
	}

	v := strings.TrimSpace(string(body))
	return v, v != "", nil
}

func (r *Resolver) discover(ctx context.Context) (string, error) {
	for page := 1; page <= r.maxPages; page++ {
		runs, err := r.page(ctx, page)
		if err != nil {
			return "", err
		}

		if len(runs) == 0 {
			return "", &ResolutionError{
				Reason: fmt.Sprintf("run list exhausted after %d page(s)", page-1),
				Err:    ErrNoQualifyingRun,
			}
		}

		if run, ok := FindRun(runs); ok {
			logger.DebugKV(ctx, "Found qualifying run", "page", page, "sha", run.HeadSHA)
			return run.HeadSHA, nil
		}

		logger.DebugKV(ctx, "No qualifying run on page", "page", page, "runs", len(runs))
	}

	return "", &ResolutionError{
		Reason: fmt.Sprintf("no qualifying run within %d page(s)", r.maxPages),
		Err:    ErrPageLimit,
	}
}

func (r *Resolver) page(ctx context.Context, n int) ([]BuildRun, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for build-status rate limit: %w", err)
	}

	u, err := url.Parse(r.apiURL)
	if err != nil {
		return nil, &ResolutionError{Reason: "invalid build-status URL", Err: err}
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(PerPage))
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	body, err := r.getter.Fetch(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("query build status page %d: %w", n, err)
	}

	var p runsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &ResolutionError{Reason: fmt.Sprintf("decode build status page %d", n), Err: err}
	}

	return p.WorkflowRuns, nil
}
