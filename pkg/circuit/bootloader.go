package circuit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// BootLoader fetches boot configuration and resources. It runs concurrently
// with fragment discovery and must finish before the first reconnect pass.
type BootLoader interface {
	Load(ctx context.Context) error
}

// BootLoaderFunc adapts a function to BootLoader.
type BootLoaderFunc func(ctx context.Context) error

// Load calls f.
func (f BootLoaderFunc) Load(ctx context.Context) error { return f(ctx) }

var nopBootLoader = BootLoaderFunc(func(context.Context) error { return nil })

// HTTPBootLoader fetches a boot manifest and every resource it lists.
//
// The manifest is JSON of the form {"resources": ["a.js", "b.css"]};
// relative entries resolve against ConfigURL. Resources listed directly in
// Resources are fetched too. Any failed fetch fails the load.
type HTTPBootLoader struct {
	ConfigURL string
	Resources []string
	Client    *http.Client

	// Concurrency bounds parallel resource fetches.
	// Default: 4.
	Concurrency int
}

// Load fetches the manifest, then all resources concurrently.
func (l *HTTPBootLoader) Load(ctx context.Context) error {
	resources := append([]string(nil), l.Resources...)

	if l.ConfigURL != "" {
		body, err := l.fetch(ctx, l.ConfigURL)
		if err != nil {
			return fmt.Errorf("circuit: boot config: %w", err)
		}
		if !gjson.ValidBytes(body) {
			return fmt.Errorf("circuit: boot config %s is not valid JSON", l.ConfigURL)
		}
		base, err := url.Parse(l.ConfigURL)
		if err != nil {
			return fmt.Errorf("circuit: boot config url: %w", err)
		}
		var resolveErr error
		gjson.GetBytes(body, "resources").ForEach(func(_, v gjson.Result) bool {
			ref, err := url.Parse(v.String())
			if err != nil {
				resolveErr = fmt.Errorf("circuit: boot resource %q: %w", v.String(), err)
				return false
			}
			resources = append(resources, base.ResolveReference(ref).String())
			return true
		})
		if resolveErr != nil {
			return resolveErr
		}
	}

	limit := l.Concurrency
	if limit <= 0 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, res := range resources {
		g.Go(func() error {
			if _, err := l.fetch(gctx, res); err != nil {
				return fmt.Errorf("circuit: boot resource: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *HTTPBootLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
