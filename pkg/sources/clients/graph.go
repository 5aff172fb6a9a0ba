package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	GraphAPIBase = "https://graph.microsoft.com/v1.0"

	maxErrorBody    = 64 << 10
	defaultPageSize = 50
)

// API call counter for metrics
var graphAPICallCount int64

// GetGraphAPICallCount returns the current API call count
func GetGraphAPICallCount() int64 {
	return atomic.LoadInt64(&graphAPICallCount)
}

// TokenSource supplies bearer tokens per credential
type TokenSource interface {
	AccessToken(ctx context.Context, credentialId uint) (string, error)
	Invalidate(credentialId uint, staleToken string)
}

// Request describes one Graph call. Path is joined to the base URL unless it is
// already absolute (next and delta links), in which case it is sent verbatim
// and Query is ignored.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
}

// GraphClient is an authenticated Microsoft Graph transport
type GraphClient struct {
	HTTPClient *http.Client
	baseURL    string
	pageSize   int
	tokens     TokenSource
	throttle   *Throttle
}

// NewGraphClient creates a new Graph API client
func NewGraphClient(cfg types.GraphConfig, tokens TokenSource) *GraphClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = GraphAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &GraphClient{
		HTTPClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		pageSize:   pageSize,
		tokens:     tokens,
		throttle:   NewThrottle(cfg.RequestsPerSecond, cfg.Burst),
	}
}

type attempt int

const (
	attemptFirst attempt = iota
	attemptRetriedAfterRefresh
)

// Do sends req with the credential's bearer token and decodes a 2xx body into
// out (nil discards it). A 401 invalidates the token and retries exactly once;
// a second 401 is AuthenticationFailedError.
func (c *GraphClient) Do(ctx context.Context, credentialId uint, req Request, out any) error {
	state := attemptFirst
	for {
		if err := c.throttle.Wait(ctx, credentialId); err != nil {
			return err
		}

		token, err := c.tokens.AccessToken(ctx, credentialId)
		if err != nil {
			return err
		}

		resp, err := c.send(ctx, token, req)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return c.decode(resp, out)
		}
		drain(resp)

		switch state {
		case attemptFirst:
			log.Debug().Uint("credential_id", credentialId).Str("path", redactPath(req.Path)).Msg("graph returned 401, refreshing token")
			c.tokens.Invalidate(credentialId, token)
			state = attemptRetriedAfterRefresh
		case attemptRetriedAfterRefresh:
			return &types.AuthenticationFailedError{Endpoint: redactPath(req.Path)}
		}
	}
}

func (c *GraphClient) send(ctx context.Context, token string, req Request) (*http.Response, error) {
	count := atomic.AddInt64(&graphAPICallCount, 1)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.resolve(req)
	log.Debug().Int64("api_calls", count).Str("method", method).Str("path", redactPath(target)).Msg("graph API call")

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return c.HTTPClient.Do(httpReq)
}

func (c *GraphClient) resolve(req Request) string {
	if isAbsolute(req.Path) {
		return req.Path
	}
	target := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	return target
}

func (c *GraphClient) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providerError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.ProviderError{StatusCode: resp.StatusCode, Code: "malformedResponse", Message: err.Error()}
	}
	if v, ok := out.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return &types.ProviderError{StatusCode: resp.StatusCode, Code: "malformedResponse", Message: err.Error()}
		}
	}
	return nil
}

func providerError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	pe := &types.ProviderError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}

	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Code != "" {
		pe.Code = ge.Error.Code
		pe.Message = ge.Error.Message
	} else {
		pe.Message = strings.TrimSpace(string(body))
		if pe.Message == "" {
			pe.Message = http.StatusText(resp.StatusCode)
		}
	}
	return pe
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://")
}

// redactPath drops the query string; delta and skip tokens are opaque state
func redactPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// IsDeltaExpired reports whether a delta link can no longer be resumed and the
// folder needs a full resync
func IsDeltaExpired(err error) bool {
	var pe *types.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode == http.StatusGone {
		return true
	}
	switch strings.ToLower(pe.Code) {
	case "syncstatenotfound", "syncstateinvalid", "resyncrequired":
		return true
	}
	return false
}
