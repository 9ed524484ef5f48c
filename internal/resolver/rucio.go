package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ua-hep/afw/internal/cache"
	"github.com/ua-hep/afw/internal/logging"
)

const (
	// RucioStore is the cache store name for pattern lookups
	RucioStore = "rucio"

	// DefaultRucioScope is the scope searched for containers
	DefaultRucioScope = "cms"
)

// RucioConfig holds what is needed to talk to a Rucio server
type RucioConfig struct {
	Host  string
	Token string
	Scope string
	// HTTPClient defaults to a client with a 60 second timeout
	HTTPClient *http.Client
}

// RucioClient searches a Rucio server for container DIDs
type RucioClient struct {
	base   *url.URL
	token  string
	scope  string
	client *http.Client
}

// NewRucioClient validates cfg and builds a client
func NewRucioClient(cfg RucioConfig) (*RucioClient, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: no rucio host configured", ErrServiceUnavailable)
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: no rucio auth token configured", ErrServiceUnavailable)
	}

	base, err := url.Parse(strings.TrimRight(cfg.Host, "/"))
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("%w: invalid rucio host %q", ErrServiceUnavailable, cfg.Host)
	}

	scope := cfg.Scope
	if scope == "" {
		scope = DefaultRucioScope
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &RucioClient{base: base, token: cfg.Token, scope: scope, client: client}, nil
}

// ListContainers returns the names of every container matching pattern
func (c *RucioClient) ListContainers(ctx context.Context, pattern string) ([]string, error) {
	u := *c.base
	u.Path += "/dids/" + url.PathEscape(c.scope) + "/dids/search"
	q := url.Values{}
	q.Set("type", "container")
	q.Set("name", pattern)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Rucio-Auth-Token", c.token)
	req.Header.Set("Accept", "application/x-json-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rucio search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rucio search returned status %d", resp.StatusCode)
	}

	// One JSON document per line: either a bare name or a DID object
	names := []string{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, err := decodeDIDName([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("%w: rucio search line %q: %v", ErrMalformedResponse, line, err)
		}

		names = append(names, name)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rucio response: %w", err)
	}

	return names, nil
}

func decodeDIDName(line []byte) (string, error) {
	var name string
	if err := json.Unmarshal(line, &name); err == nil {
		return name, nil
	}

	var did struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(line, &did); err != nil {
		return "", err
	}

	if did.Name == "" {
		return "", fmt.Errorf("missing name")
	}

	return did.Name, nil
}

// RucioResolver implements IdentifierResolver on top of a lazily built
// RucioClient and an optional cache store
type RucioResolver struct {
	newClient func() (*RucioClient, error)
	store     *cache.Store[[]string]
	logger    *slog.Logger

	once      sync.Once
	client    *RucioClient
	clientErr error
}

// NewRucioResolver creates a resolver. The client is only constructed when
// a pattern misses the cache.
func NewRucioResolver(cfg RucioConfig, store *cache.Store[[]string], logger *slog.Logger) *RucioResolver {
	return &RucioResolver{
		newClient: func() (*RucioClient, error) { return NewRucioClient(cfg) },
		store:     store,
		logger:    logging.OrDiscard(logger),
	}
}

// ResolveIdentifiers returns the catalog identifiers matching pattern
func (r *RucioResolver) ResolveIdentifiers(ctx context.Context, pattern string) ([]string, error) {
	lookup := func() ([]string, error) {
		r.logger.Debug("Querying rucio", "pattern", pattern)

		client, err := r.getClient()
		if err != nil {
			return nil, err
		}

		return client.ListContainers(ctx, pattern)
	}

	if r.store == nil {
		return lookup()
	}

	return r.store.GetOrCompute(pattern, lookup)
}

func (r *RucioResolver) getClient() (*RucioClient, error) {
	r.once.Do(func() {
		r.client, r.clientErr = r.newClient()
	})

	return r.client, r.clientErr
}
