package odds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alejandrodnm/ironclad/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.ironclad-odds.example"

	// El plan gratuito del vendor permite 10 req/s; usamos la mitad.
	boardRatePerSec = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	apiKeyHeader = "X-Api-Key"
)

// Client es el HTTP client del vendor de cuotas con rate limiting y retries.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	limiter   *rate.Limiter
	retryWait time.Duration
}

// Option configura un Client.
type Option func(*Client)

// WithHTTPClient reemplaza el *http.Client por defecto (timeout 10s).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetryWait cambia la espera base del backoff exponencial.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient crea un Client. Si baseURL está vacío usa el de producción.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   baseURL,
		apiKey:    apiKey,
		limiter:   rate.NewLimiter(boardRatePerSec, 2),
		retryWait: baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type boardResponse struct {
	Lines []domain.BoardLine `json:"lines"`
}

// FetchBoard implementa ports.BoardProvider contra GET {base}/v1/board.
func (c *Client) FetchBoard(ctx context.Context, season, week int) ([]domain.BoardLine, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("odds.FetchBoard: no API key configured")
	}
	q := url.Values{}
	q.Set("season", strconv.Itoa(season))
	q.Set("week", strconv.Itoa(week))

	var resp boardResponse
	if err := c.get(ctx, c.baseURL+"/v1/board?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("odds.FetchBoard: %d w%d: %w", season, week, err)
	}
	slog.Debug("board fetched", "season", season, "week", week, "lines", len(resp.Lines))
	return resp.Lines, nil
}

// get hace un GET autenticado con rate limiting y retries.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(apiKeyHeader, c.apiKey)
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// Reintenta errores de red, 429 y 5xx; un 4xx se devuelve con su body.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by odds API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
