package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/itchyny/gojq"
	"github.com/shopspring/decimal"

	"github.com/eastern-cyber/planpay/service/config"
	"github.com/eastern-cyber/planpay/service/metrics"
)

// Rate is one observation of the token exchange rate.
type Rate struct {
	Raw       decimal.Decimal `json:"raw"`
	Adjusted  decimal.Decimal `json:"adjusted"`
	Fallback  bool            `json:"fallback"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// minimumAdjustedRate floors the buffered rate so division stays sane even
// when the buffer exceeds the raw rate.
var minimumAdjustedRate = decimal.RequireFromString("0.01")

// feed is one external price endpoint with its compiled extraction expression.
// Each provider returns a different response shape, so each feed carries its
// own gojq program.
type feed struct {
	name string
	url  string
	code *gojq.Code
}

// Provider fetches the current exchange rate from an ordered list of feeds.
// Feeds are tried in order; the first that yields a positive number wins.
// When every feed fails, the configured constant fallback is used so a
// purchase can always proceed.
type Provider struct {
	feeds      []feed
	buffer     decimal.Decimal
	fallback   decimal.Decimal
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProvider compiles the feed expressions and returns a ready Provider.
// The metrics parameter may be nil.
func NewProvider(feeds []config.RateFeed, buffer, fallback float64, logger *slog.Logger, m *metrics.Metrics) (*Provider, error) {
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one rate feed is required")
	}
	if fallback <= 0 {
		return nil, fmt.Errorf("fallback rate must be positive, got %v", fallback)
	}

	compiled := make([]feed, 0, len(feeds))
	for _, f := range feeds {
		query, err := gojq.Parse(f.Expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rate expression %q: %w", f.Expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rate expression %q: %w", f.Expr, err)
		}
		compiled = append(compiled, feed{
			name: feedName(f.URL),
			url:  f.URL,
			code: code,
		})
	}

	return &Provider{
		feeds:      compiled,
		buffer:     decimal.NewFromFloat(buffer),
		fallback:   decimal.NewFromFloat(fallback),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		metrics:    m,
	}, nil
}

// Current returns the exchange rate from the first feed that responds with a
// positive number. A feed failure is logged and the next feed is tried; only
// when all feeds fail does the constant fallback apply. Current never returns
// an error: the fallback guarantees a usable rate.
func (p *Provider) Current(ctx context.Context) Rate {
	for _, f := range p.feeds {
		start := time.Now()
		raw, err := p.fetchFeed(ctx, f)
		duration := time.Since(start).Seconds()
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordRateFetch(f.name, "error", duration)
			}
			p.logger.Warn("rate feed failed, trying next",
				"feed", f.name,
				"error", err)
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordRateFetch(f.name, "success", duration)
		}
		return p.observe(raw, false, f.name)
	}

	if p.metrics != nil {
		p.metrics.RecordRateFallback()
	}
	p.logger.Warn("all rate feeds failed, using fallback rate",
		"fallback", p.fallback.String())
	return p.observe(p.fallback, true, "fallback")
}

// observe applies the safety buffer and floor to a raw rate.
func (p *Provider) observe(raw decimal.Decimal, fallback bool, source string) Rate {
	adjusted := raw.Sub(p.buffer)
	if adjusted.LessThan(minimumAdjustedRate) {
		adjusted = minimumAdjustedRate
	}
	if p.metrics != nil {
		p.metrics.RecordCurrentRate(raw.InexactFloat64(), adjusted.InexactFloat64())
	}
	return Rate{
		Raw:       raw,
		Adjusted:  adjusted,
		Fallback:  fallback,
		Source:    source,
		FetchedAt: time.Now(),
	}
}

// fetchFeed requests one feed and runs its extraction expression over the
// JSON response.
func (p *Provider) fetchFeed(ctx context.Context, f feed) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return decimal.Zero, fmt.Errorf("invalid JSON response: %w", err)
	}

	iter := f.code.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return decimal.Zero, fmt.Errorf("expression produced no result")
	}
	if err, isErr := v.(error); isErr {
		return decimal.Zero, fmt.Errorf("expression error: %w", err)
	}

	rate, err := toDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate %s", rate)
	}
	return rate, nil
}

// toDecimal converts a gojq result to a decimal. Feeds disagree on whether
// prices are numbers or strings, so both are accepted.
func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, fmt.Errorf("non-numeric rate %q", val)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected rate type %T", v)
	}
}

// feedName derives a stable label from a feed URL for logging and metrics.
func feedName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
