package circuit

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/vango-dev/circuit/pkg/channel"
	"github.com/vango-dev/circuit/pkg/interop"
	"github.com/vango-dev/circuit/pkg/renderqueue"
	"github.com/vango-dev/circuit/pkg/telemetry"
)

// DefaultServiceURL is the hub path used when Options.ServiceURL is empty.
const DefaultServiceURL = "_blazor"

// Options configures a Controller.
type Options struct {
	// BaseURL is the page URL relative service URLs resolve against.
	// Required unless ServiceURL is absolute.
	BaseURL string

	// ServiceURL is the hub endpoint. The creation endpoint is
	// ServiceURL + "/start".
	// Default: "_blazor".
	ServiceURL string

	// ConfigureTransport customizes every connection before it is built.
	ConfigureTransport func(*channel.Builder)

	// Channel is the transport config applied before ConfigureTransport.
	// Default: channel.DefaultConfig().
	Channel *channel.Config

	// Logger receives controller logs. When nil a text logger on stderr at
	// LogLevel is used.
	Logger *slog.Logger

	// LogLevel is the minimum level of the default logger.
	// Default: slog.LevelWarn.
	LogLevel slog.Leveler

	// HTTPClient is used by the default Creator.
	// Default: http.DefaultClient.
	HTTPClient *http.Client

	// Reconnect is the automatic reconnection policy.
	// Default: a single attempt.
	Reconnect ReconnectPolicy

	// DisableAutoReconnect leaves reconnection to the host.
	DisableAutoReconnect bool

	// Fragments discovers pre-rendered fragments.
	// Default: none.
	Fragments FragmentSource

	// BootLoader loads boot configuration and resources.
	// Default: a no-op loader.
	BootLoader BootLoader

	// Creator obtains a circuit id when no fragment carries one.
	// Default: HTTPCreator against ServiceURL + "/start".
	Creator Creator

	// Starter begins rendering components that were not pre-rendered.
	// Default: HubStarter.
	Starter Starter

	// Interop receives JS.BeginInvokeJS calls.
	Interop interop.Handler

	// Applier applies render batches; it backs the default queue factory.
	// Default: an applier that accepts and discards every batch.
	Applier renderqueue.Applier

	// Queues creates per-renderer queues. Overrides Applier.
	Queues renderqueue.Factory

	// Observers are notified after the automatic reconnection observer, in
	// order.
	Observers []Observer

	// Metrics records lifecycle metrics. Nil records nothing.
	Metrics *telemetry.Metrics

	// Tracer traces boot and reconnect passes. Nil traces nothing.
	Tracer *telemetry.Tracer
}

// resolved holds Options after defaults and URL resolution.
type resolved struct {
	Options
	serviceURL string
	startURL   string
}

func (o Options) resolve() (*resolved, error) {
	r := &resolved{Options: o}

	if r.Logger == nil {
		level := r.LogLevel
		if level == nil {
			level = slog.LevelWarn
		}
		r.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	service := r.ServiceURL
	if service == "" {
		service = DefaultServiceURL
	}
	ref, err := url.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("%w: service url: %v", ErrInvalidOptions, err)
	}
	if !ref.IsAbs() {
		if r.BaseURL == "" {
			return nil, fmt.Errorf("%w: relative service url %q needs a base url", ErrInvalidOptions, service)
		}
		base, err := url.Parse(r.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: base url: %v", ErrInvalidOptions, err)
		}
		if !base.IsAbs() {
			return nil, fmt.Errorf("%w: base url %q is not absolute", ErrInvalidOptions, r.BaseURL)
		}
		ref = base.ResolveReference(ref)
	}
	switch ref.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOptions, ref.Scheme)
	}
	ref.RawQuery = ""
	ref.Fragment = ""
	r.serviceURL = strings.TrimSuffix(ref.String(), "/")
	r.startURL = r.serviceURL + "/start"

	if err := r.Reconnect.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	if r.Fragments == nil {
		r.Fragments = StaticFragments(nil)
	}
	if r.BootLoader == nil {
		r.BootLoader = nopBootLoader
	}
	if r.Creator == nil {
		r.Creator = &HTTPCreator{URL: creatorURL(r.startURL), Client: r.HTTPClient}
	}
	if r.Starter == nil {
		r.Starter = HubStarter{}
	}
	if r.Queues == nil {
		applier := r.Applier
		if applier == nil {
			applier = renderqueue.ApplierFunc(func(int64, int64, []byte) error { return nil })
		}
		qopts := []renderqueue.Option{renderqueue.WithLogger(r.Logger)}
		if r.Metrics != nil {
			qopts = append(qopts, renderqueue.WithObserver(r.Metrics))
		}
		r.Queues = renderqueue.NewFactory(applier, qopts...)
	}
	return r, nil
}

// creatorURL maps a ws(s) service URL to http(s) for the creation request.
func creatorURL(startURL string) string {
	switch {
	case strings.HasPrefix(startURL, "ws://"):
		return "http://" + strings.TrimPrefix(startURL, "ws://")
	case strings.HasPrefix(startURL, "wss://"):
		return "https://" + strings.TrimPrefix(startURL, "wss://")
	default:
		return startURL
	}
}
