// Package tokenprice looks up USD prices of AO ecosystem tokens. Quotes are
// cached briefly and upstream calls are rate limited.
package tokenprice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var ErrUnsupportedToken = errors.New("unsupported token")

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aobridge_token_price_cache_hits_total",
		Help: "Token price lookups served from the cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aobridge_token_price_cache_misses_total",
		Help: "Token price lookups that went upstream.",
	})
)

type endpoint string

const (
	endpointUSDPrice endpoint = "usd-price"
	endpointHopper   endpoint = "hopper"
)

type token struct {
	symbol    string
	processID string
	endpoint  endpoint
}

var supported = []token{
	{"AO", "0syT13r0s0tgPmIed95bJnuSqaD29HQNN8D3ElLSrsc", endpointUSDPrice},
	{"AR", "xU9zFkq3X2ZQ6olwNVvr1vUWIjc3kXTWr7xKQD6dh10", endpointUSDPrice},
	{"ARIO", "qNvAoz0TgcH7DMg8BCVn8jF32QH5L6T29VjHxhHqqGE", endpointHopper},
	{"TRUNK", "wOrb8b_V8QixWyXZub48Ki5B6OIDyf_p1ngoonsaRpQ", endpointHopper},
	{"GAME", "s6jcB3ctSbiDNwR-paJgy5iOAhahXahLul8exSLHbGE", endpointHopper},
}

// SupportedTokens lists the accepted symbols in a stable order.
func SupportedTokens() []string {
	out := make([]string, 0, len(supported))
	for _, t := range supported {
		out = append(out, t.symbol)
	}
	return out
}

func lookup(symbol string) (token, error) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	for _, t := range supported {
		if t.symbol == upper {
			return t, nil
		}
	}
	return token{}, fmt.Errorf("%w: %s. Supported tokens: %s", ErrUnsupportedToken, symbol, strings.Join(SupportedTokens(), ", "))
}

// Price is a decimal price as text. Upstream sends either a JSON number or a
// string.
type Price string

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = Price(n.String())
	return nil
}

type Quote struct {
	Token     string    `json:"token"`
	ProcessID string    `json:"processId"`
	Price     Price     `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

type Config struct {
	BaseURL           string
	APIKey            string
	CacheTTL          time.Duration
	CacheSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	cache   *expirable.LRU[string, Quote]
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	burst := max(int(cfg.RequestsPerSecond), 1)
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   expirable.NewLRU[string, Quote](cfg.CacheSize, nil, cfg.CacheTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:  log.With(slog.String("service", "tokenprice")),
		now:     time.Now,
	}
}

// Price returns the USD quote for symbol (case-insensitive).
func (c *Client) Price(ctx context.Context, symbol string) (Quote, error) {
	t, err := lookup(symbol)
	if err != nil {
		return Quote{}, err
	}
	if q, ok := c.cache.Get(t.symbol); ok {
		cacheHits.Inc()
		return q, nil
	}
	cacheMisses.Inc()

	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("rate limiter: %w", err)
	}
	var q Quote
	switch t.endpoint {
	case endpointUSDPrice:
		q, err = c.fetchUSDPrice(ctx, t)
	default:
		q, err = c.fetchHopper(ctx, t)
	}
	if err != nil {
		c.logger.Error("fetch price failed", slog.String("token", t.symbol), slog.Any("error", err))
		return Quote{}, fmt.Errorf("failed to fetch %s price: %w", t.symbol, err)
	}
	c.cache.Add(t.symbol, q)
	return q, nil
}

func (c *Client) fetchUSDPrice(ctx context.Context, t token) (Quote, error) {
	var resp struct {
		ProcessID string `json:"processId"`
		Price     Price  `json:"price"`
	}
	if err := c.post(ctx, endpointUSDPrice, map[string]any{"processId": t.processID}, &resp); err != nil {
		return Quote{}, err
	}
	return Quote{
		Token:     t.symbol,
		ProcessID: firstNonEmpty(resp.ProcessID, t.processID),
		Price:     resp.Price,
		Currency:  "USD",
		Timestamp: c.now().UTC(),
	}, nil
}

func (c *Client) fetchHopper(ctx context.Context, t token) (Quote, error) {
	var resp struct {
		BaseTokenProcess  string `json:"Base-Token-Process"`
		Price             Price  `json:"Price"`
		QuoteTokenProcess string `json:"Quote-Token-Process"`
	}
	body := map[string]any{"baseToken": t.processID, "quoteToken": "USD", "priceOnly": true}
	if err := c.post(ctx, endpointHopper, body, &resp); err != nil {
		return Quote{}, err
	}
	return Quote{
		Token:     t.symbol,
		ProcessID: firstNonEmpty(resp.BaseTokenProcess, t.processID),
		Price:     resp.Price,
		Currency:  firstNonEmpty(resp.QuoteTokenProcess, "USD"),
		Timestamp: c.now().UTC(),
	}, nil
}

func (c *Client) post(ctx context.Context, ep endpoint, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+string(ep), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned status %d: %s", ep, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", ep, err)
	}
	return nil
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
