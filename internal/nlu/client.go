package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/leadlink/internal/telemetry"
)

var tracer = otel.Tracer("leadlink.internal.nlu")

const (
	chatPath       = "/agent/chat"
	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for the error message.
	maxErrorBody = 512
)

// ClientConfig configures the HTTP analysis client.
type ClientConfig struct {
	// BaseURL of the analysis service, e.g. http://localhost:8000.
	BaseURL string

	// Timeout for one analysis call.
	// Default: 30s
	Timeout time.Duration
}

// Validate checks that the client configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("nlu base url is required")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Client calls the analysis service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an analysis client.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Analyze posts the turn to the analysis service exactly once.
func (c *Client) Analyze(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "nlu.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadlink.platform", req.Platform),
		attribute.Int("leadlink.history_len", len(req.History)),
	)

	start := time.Now()
	resp, err := c.do(ctx, req)

	m := telemetry.GetMetrics()
	m.NLUCallDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", err == nil)))

	if err != nil {
		m.NLUFailuresTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		log.Warn().Err(err).Str("platform", req.Platform).Msg("Analysis call failed")
		return nil, err
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(normalizeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %w", ErrCollaborator, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %w", ErrCollaborator, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollaborator, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrCollaborator, httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrCollaborator, err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("%w: unsuccessful response", ErrCollaborator)
	}

	return &resp, nil
}

// normalizeRequest replaces nil collections so the service always receives JSON arrays and objects.
func normalizeRequest(req *Request) *Request {
	out := *req
	if out.History == nil {
		out.History = []HistoryMessage{}
	}
	if out.PlatformData == nil {
		out.PlatformData = map[string]any{}
	}
	if out.KnownEntities == nil {
		out.KnownEntities = map[string]string{}
	}
	return &out
}
