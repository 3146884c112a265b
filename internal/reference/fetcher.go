package reference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	fetchTimeout = 30 * time.Second
	maxRetries   = 3
	cacheTTL     = 12 * time.Hour
	cachePrefix  = "snipeqc:ref:"
)

// Fetcher retrieves one reference payload by its path relative to the
// reference base, e.g. "human/genome/hg38.sig".
type Fetcher interface {
	Fetch(ctx context.Context, relPath string) (string, error)
}

// NewFetcher picks the fetcher for the configured base: an http(s) URL is
// fetched over the network with retries, anything else is a local
// directory. A non-empty redisURL wraps the fetcher in a shared cache.
func NewFetcher(base, redisURL string) (Fetcher, error) {
	var fetcher Fetcher
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		fetcher = &httpFetcher{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: fetchTimeout}}
	} else {
		fetcher = &dirFetcher{root: base}
	}
	if redisURL == "" {
		return fetcher, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &cachedFetcher{next: fetcher, client: redis.NewClient(opts)}, nil
}

type dirFetcher struct {
	root string
}

func (f *dirFetcher) Fetch(_ context.Context, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(relPath))) //nolint:gosec // paths are built from validated selections
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", relPath, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}
	return string(data), nil
}

type httpFetcher struct {
	base   string
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, relPath string) (string, error) {
	target := f.base + "/" + url.PathEscape(relPath)
	// PathEscape would also escape the separators
	target = strings.ReplaceAll(target, "%2F", "/")

	var body string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s: %w", relPath, ErrNotFound))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("fetch %s: http %d", relPath, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", relPath, err)
		}
		body = string(data)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return body, nil
}

// cachedFetcher keeps payloads in Redis so restarting sessions against the
// same reference set skips refetching multi-megabyte blobs.
type cachedFetcher struct {
	next   Fetcher
	client *redis.Client
}

func (f *cachedFetcher) Fetch(ctx context.Context, relPath string) (string, error) {
	key := cachePrefix + relPath
	cached, err := f.client.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if err != redis.Nil {
		log.Warn().Str("path", relPath).Err(err).Msg("reference cache read failed")
	}

	body, err := f.next.Fetch(ctx, relPath)
	if err != nil {
		return "", err
	}
	if err := f.client.Set(ctx, key, body, cacheTTL).Err(); err != nil {
		log.Warn().Str("path", relPath).Err(err).Msg("reference cache write failed")
	}
	return body, nil
}
