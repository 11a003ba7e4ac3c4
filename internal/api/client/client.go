package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/axiom/internal/api/http"
	"github.com/GriffinCanCode/axiom/internal/api/ws"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/axiom/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
	"github.com/GriffinCanCode/axiom/internal/vfs/archive"
)

// Client calls the axiomd HTTP API and fetches remote documents. Transport
// failures are retried; a run of them opens the circuit breaker.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// Config configures a Client. Zero fields take the defaults.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	Breaker    resilience.Settings
	Logger     *zap.Logger
}

// DefaultConfig returns the defaults for a server at baseURL
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
		Breaker:    resilience.Settings{Failures: 5, Cooldown: 30 * time.Second},
	}
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = cfg.MaxRetries
	retry.RetryWaitMin = cfg.MinWait
	retry.RetryWaitMax = cfg.MaxWait
	retry.Logger = nil
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retry.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			cfg.Logger.Debug("Retrying request", zap.String("url", req.URL.String()), zap.Int("attempt", attempt))
		}
	}

	r := resty.NewWithClient(retry.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "axiom/"+apihttp.Version)
	r.JSONMarshal = sonic.Marshal
	r.JSONUnmarshal = sonic.Unmarshal
	if cfg.BaseURL != "" {
		r.SetBaseURL(strings.TrimSuffix(httpURL(cfg.BaseURL), "/"))
	}

	breaker := cfg.Breaker
	if breaker.Logger == nil {
		breaker.Logger = cfg.Logger
	}
	// only transport failures and server errors trip the breaker
	breaker.Trip = func(err error) bool {
		return fserr.From(err).Kind == fserr.KindRuntime
	}

	return &Client{
		resty:   r,
		breaker: resilience.New("axiomd", breaker),
		logger:  cfg.Logger,
	}
}

// httpURL maps a ws:// server URL to its http:// form.
func httpURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String()
}

// Breaker exposes the circuit state
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

type errorBody struct {
	Error *fserr.Wire `json:"error"`
}

// get decodes a JSON answer from endpoint into T.
func get[T any](ctx context.Context, c *Client, endpoint string, query map[string]string) (T, error) {
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (T, error) {
		var out T
		var failure errorBody
		resp, err := c.resty.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetResult(&out).
			SetError(&failure).
			Get(endpoint)
		if err != nil {
			return out, err
		}
		if resp.IsError() {
			return out, statusError(resp.StatusCode(), resp.Status(), failure.Error)
		}
		return out, nil
	})
}

func statusError(code int, status string, wire *fserr.Wire) error {
	if wire != nil {
		return fserr.FromWire(wire)
	}
	if code >= 500 {
		return fserr.Runtime(status)
	}
	return fserr.Unknown(status)
}

// Health is the answer of /health
type Health struct {
	Status   string              `json:"status"`
	Mounts   []string            `json:"mounts"`
	Sessions []ws.SessionInfo    `json:"sessions"`
	Metrics  monitoring.Snapshot `json:"metrics"`
}

// Health fetches the server status
func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := get[Health](ctx, c, "/health", nil)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Mounts lists the mounted filesystems
func (c *Client) Mounts(ctx context.Context) ([]apihttp.MountInfo, error) {
	out, err := get[struct {
		Mounts []apihttp.MountInfo `json:"mounts"`
	}](ctx, c, "/mounts", nil)
	return out.Mounts, err
}

// Glob expands pattern (without the root) on the named mount
func (c *Client) Glob(ctx context.Context, mount, pattern string) ([]string, error) {
	out, err := get[struct {
		Matches []string `json:"matches"`
	}](ctx, c, "/mounts/"+url.PathEscape(mount)+"/glob", map[string]string{"pattern": pattern})
	return out.Matches, err
}

// Archive streams the tree at dir of the named mount into w.
func (c *Client) Archive(ctx context.Context, w io.Writer, mount, dir string, compression archive.Compression) (int64, error) {
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (int64, error) {
		resp, err := c.resty.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{"path": dir, "compression": string(compression)}).
			SetDoNotParseResponse(true).
			Get("/mounts/" + url.PathEscape(mount) + "/archive")
		if err != nil {
			return 0, err
		}
		body := resp.RawBody()
		defer body.Close()

		if resp.IsError() {
			var failure errorBody
			data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
			_ = sonic.Unmarshal(data, &failure)
			return 0, statusError(resp.StatusCode(), resp.Status(), failure.Error)
		}
		return io.Copy(w, body)
	})
}

// Fetch downloads an absolute URL, such as a remote manifest.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fserr.Invalid("url", rawURL)
	}
	return resilience.Do(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		resp, err := c.resty.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, statusError(resp.StatusCode(), fmt.Sprintf("fetch %s: %s", rawURL, resp.Status()), nil)
		}
		c.logger.Debug("Fetched document", zap.String("url", rawURL), zap.Int("bytes", len(resp.Body())))
		return resp.Body(), nil
	})
}
