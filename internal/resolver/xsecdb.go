package resolver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/logging"
)

const (
	// XSecStore is the cache store name for XSecDB searches
	XSecStore = "xsecdb"

	// DefaultXSecURL is the official XSecDB instance
	DefaultXSecURL = "https://xsecdb-xsdb-official.app.cern.ch"

	// DefaultCookieFile holds the browser-exported XSecDB session
	DefaultCookieFile = "cookie.txt"

	// DefaultOverridesFile maps identifiers straight to a factor
	DefaultOverridesFile = "xsecdb-overrides.yaml"

	// DefaultVersionPattern marks where the processing version starts in
	// an identifier. XSecDB indexes the text before it.
	DefaultVersionPattern = `NanoAODv\d+`
)

// XSecResult is one XSecDB search hit
type XSecResult map[string]any

// statusError is a non-200 XSecDB answer. It is never cached.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("xsecdb returned status %d", e.code)
}

// XSecClient posts searches to XSecDB with a browser session cookie
type XSecClient struct {
	url     string
	cookies []*http.Cookie
	client  *http.Client
}

// NewXSecClient builds a client from the Netscape cookie file at
// cookiePath. The cookie must be exported from a browser because the
// service requires two-factor login.
func NewXSecClient(baseURL, cookiePath string, httpClient *http.Client) (*XSecClient, error) {
	if baseURL == "" {
		baseURL = DefaultXSecURL
	}

	if cookiePath == "" {
		cookiePath = DefaultCookieFile
	}

	cookies, err := readCookieFile(cookiePath)
	if err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &XSecClient{
		url:     strings.TrimRight(baseURL, "/") + "/api/search",
		cookies: cookies,
		client:  httpClient,
	}, nil
}

// Search returns every entry whose DAS field matches key
func (c *XSecClient) Search(ctx context.Context, key string) ([]XSecResult, error) {
	request := map[string]any{
		"search":     map[string]any{"DAS": key},
		"orderBy":    map[string]any{"DAS": -1},
		"pagination": map[string]any{"currentPage": 0, "pageSize": 10},
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xsecdb search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	results := []XSecResult{}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: xsecdb answer for %q: %v", ErrMalformedResponse, key, err)
	}

	return results, nil
}

// readCookieFile parses a Netscape cookie jar (tab separated, seven fields)
func readCookieFile(path string) ([]*http.Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: cookie file %s does not exist, export one from a browser session", ErrMissingCredential, path)
		}

		return nil, fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer f.Close()

	var cookies []*http.Cookie
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}

		cookies = append(cookies, &http.Cookie{Name: fields[5], Value: fields[6]})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	return cookies, nil
}

// LoadOverrides reads the identifier -> factor overrides file. A missing
// file means no overrides. Content that is not a mapping is discarded.
func LoadOverrides(path string, logger *slog.Logger) (map[string]float64, error) {
	logger = logging.OrDiscard(logger)
	overrides := make(map[string]float64)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overrides, nil
		}

		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	logger.Debug("Loading overrides file", "path", path)

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}

	entries, ok := raw.(map[string]any)
	if !ok {
		logging.Critical(logger, "Overrides file is not a mapping, ignoring it", "path", path)
		return overrides, nil
	}

	for key, value := range entries {
		f, err := cast.ToFloat64E(value)
		if err != nil {
			logging.Critical(logger, "Override is not a number, ignoring it", "dataset", key, "value", value)
			continue
		}

		overrides[key] = f
	}

	return overrides, nil
}

// StripVersion cuts identifier at the first match of pattern. Identifiers
// without a match are returned unchanged.
func StripVersion(identifier string, pattern *regexp.Regexp) string {
	loc := pattern.FindStringIndex(identifier)
	if loc == nil {
		return identifier
	}

	return identifier[:loc[0]]
}

// XSecConfig configures an XSecResolver
type XSecConfig struct {
	URL        string
	CookieFile string
	// VersionPattern defaults to DefaultVersionPattern
	VersionPattern *regexp.Regexp
	Overrides      map[string]float64
	HTTPClient     *http.Client
}

// XSecResolver implements FactorResolver with overrides and XSecDB
type XSecResolver struct {
	newClient func() (*XSecClient, error)
	version   *regexp.Regexp
	overrides map[string]float64
	store     *cache.Store[[]XSecResult]
	logger    *slog.Logger

	once      sync.Once
	client    *XSecClient
	clientErr error
}

// NewXSecResolver creates a resolver. The XSecDB client, and so the cookie
// file, is only needed when a lookup misses both overrides and cache.
func NewXSecResolver(cfg XSecConfig, store *cache.Store[[]XSecResult], logger *slog.Logger) *XSecResolver {
	version := cfg.VersionPattern
	if version == nil {
		version = regexp.MustCompile(DefaultVersionPattern)
	}

	return &XSecResolver{
		newClient: func() (*XSecClient, error) { return NewXSecClient(cfg.URL, cfg.CookieFile, cfg.HTTPClient) },
		version:   version,
		overrides: cfg.Overrides,
		store:     store,
		logger:    logging.OrDiscard(logger),
	}
}

// ResolveFactor returns the cross-section for identifier. Only a missing
// credential or an unbuildable client is returned as an error; everything
// else is logged and reported as unresolved.
func (r *XSecResolver) ResolveFactor(ctx context.Context, identifier string) (float64, bool, error) {
	if v, ok := r.overrides[identifier]; ok {
		r.logger.Debug("Using override for fileset", "dataset", identifier)
		return v, true, nil
	}

	key := StripVersion(identifier, r.version)
	r.logger.Debug("Querying xsecdb", "dataset", identifier, "key", key)

	results, err := r.search(ctx, key)
	if err != nil {
		var status *statusError
		switch {
		case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrServiceUnavailable):
			return 0, false, err
		case errors.As(err, &status):
			logging.Critical(r.logger, "xsecdb failed, is your cookie valid?", "dataset", identifier, "status", status.code)
		default:
			logging.Critical(r.logger, "xsecdb lookup failed", "dataset", identifier, "error", err)
		}

		return 0, false, nil
	}

	factor, ok := Reconcile(identifier, results, r.logger)
	return factor, ok, nil
}

func (r *XSecResolver) search(ctx context.Context, key string) ([]XSecResult, error) {
	lookup := func() ([]XSecResult, error) {
		client, err := r.getClient()
		if err != nil {
			return nil, err
		}

		return client.Search(ctx, key)
	}

	if r.store == nil {
		return lookup()
	}

	return r.store.GetOrCompute(key, lookup)
}

func (r *XSecResolver) getClient() (*XSecClient, error) {
	r.once.Do(func() {
		r.client, r.clientErr = r.newClient()
	})

	return r.client, r.clientErr
}

// Reconcile picks a single cross-section from XSecDB results. Several hits
// are accepted only when they all carry the same value.
func Reconcile(identifier string, results []XSecResult, logger *slog.Logger) (float64, bool) {
	logger = logging.OrDiscard(logger)

	if len(results) == 0 {
		logging.Critical(logger, "Fileset has no result in xsecdb", "dataset", identifier)
		return 0, false
	}

	values := make([]float64, 0, len(results))
	for _, result := range results {
		v, err := cast.ToFloat64E(result["cross_section"])
		if err != nil {
			logging.Critical(logger, "xsecdb result has no usable cross_section",
				"dataset", identifier, "result", fmt.Sprint(result))
			return 0, false
		}

		values = append(values, v)
	}

	if len(values) > 1 {
		for _, v := range values[1:] {
			if v != values[0] {
				logging.Critical(logger, "Fileset has more than one result in xsecdb",
					"dataset", identifier, "results", fmt.Sprint(results))
				return 0, false
			}
		}

		logger.Warn("Fileset has more than one result in xsecdb, but they all share a cross-section",
			"dataset", identifier, "count", len(values))
	}

	return values[0], true
}
