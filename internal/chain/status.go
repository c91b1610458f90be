package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"lecca.io/mind-watchtower/internal/config"
)

// OffChainStatus is the explorer view of a validator.
type OffChainStatus struct {
	IsActive       bool
	ValidatedCount uint64
}

type statusResponse struct {
	HasValidatedBlocks bool `json:"has_validated_blocks"`
}

type counterResponse struct {
	ValidationsCount counterValue `json:"validations_count"`
}

// counterValue accepts a JSON number or a numeric string. Anything else,
// including null, reads as 0.
type counterValue uint64

func (c *counterValue) UnmarshalJSON(data []byte) error {
	*c = 0
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
		*c = counterValue(v)
	}
	return nil
}

// StatusClient queries the block-explorer status and counter endpoints.
type StatusClient struct {
	httpClient *http.Client
	statusURL  string
	counterURL string
	limiter    *rate.Limiter
}

func NewStatusClient(cfg config.StatusAPIConfig) *StatusClient {
	timeout := config.ParseDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &StatusClient{
		httpClient: &http.Client{Timeout: timeout},
		statusURL:  cfg.StatusURL,
		counterURL: cfg.CounterURL,
	}
	if c.counterURL == "" {
		c.counterURL = c.statusURL
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// FetchOffChain issues the status and counter requests concurrently.
func (c *StatusClient) FetchOffChain(ctx context.Context, addr common.Address) (OffChainStatus, error) {
	var status statusResponse
	var counter counterResponse

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.getJSON(gctx, c.statusURL+addr.Hex(), &status)
	})
	g.Go(func() error {
		return c.getJSON(gctx, c.counterURL+addr.Hex(), &counter)
	})
	if err := g.Wait(); err != nil {
		return OffChainStatus{}, err
	}

	return OffChainStatus{
		IsActive:       status.HasValidatedBlocks,
		ValidatedCount: uint64(counter.ValidationsCount),
	}, nil
}

func (c *StatusClient) getJSON(ctx context.Context, url string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("status api rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not build request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("url: %s, status: %d, error-response: %s", url, resp.StatusCode, data)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error parsing response from %s: %w", url, err)
	}
	return nil
}
