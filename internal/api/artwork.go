package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"battle-session/internal/config"
	"battle-session/internal/domain"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// ArtworkClient resolves monster portraits from the external art catalog.
// Purely cosmetic: every call is advisory and a failed lookup just leaves
// the enemy without an image reference.
type ArtworkClient struct {
	baseURL string
	apiKey  string
	client  *fasthttp.Client
	logger  zerolog.Logger

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     int       `json:"reset"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewArtworkClient(cfg *config.Config, logger zerolog.Logger) *ArtworkClient {
	return &ArtworkClient{
		baseURL: cfg.ArtworkAPIURL,
		apiKey:  cfg.ArtworkAPIKey,
		logger:  logger,
		client: &fasthttp.Client{
			MaxConnsPerHost:     20,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

// Enabled reports whether a catalog endpoint is configured at all.
func (c *ArtworkClient) Enabled() bool {
	return c.baseURL != ""
}

func (c *ArtworkClient) RateLimit() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *ArtworkClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-Ratelimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

type artworkResponse struct {
	URL string `json:"url"`
}

// ImageURL looks up the portrait for an enemy kind and name.
func (c *ArtworkClient) ImageURL(ctx context.Context, kind domain.EnemyKind, name string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/v1/art?kind=%s&name=%s", c.baseURL, url.QueryEscape(string(kind)), url.QueryEscape(name)))
	req.Header.SetMethod(fasthttp.MethodGet)
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.client.DoDeadline(req, resp, deadline); err != nil {
			return "", err
		}
	} else {
		if err := c.client.Do(req, resp); err != nil {
			return "", err
		}
	}

	c.updateRateLimit(resp)

	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("artwork API error: %d", resp.StatusCode())
	}

	var result artworkResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", err
	}
	return result.URL, nil
}

// Decorate fills in image references on a freshly generated roster, best
// effort. Lookup failures are logged at debug and ignored.
func (c *ArtworkClient) Decorate(ctx context.Context, enemies []domain.Enemy) {
	if !c.Enabled() {
		return
	}
	for i := range enemies {
		img, err := c.ImageURL(ctx, enemies[i].Kind, enemies[i].Name)
		if err != nil {
			c.logger.Debug().Err(err).Str("enemy", enemies[i].Name).Msg("artwork lookup failed")
			continue
		}
		enemies[i].ImageURL = img
	}
}
