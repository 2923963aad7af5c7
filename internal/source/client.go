// Package source is the adapter over the camera-management REST API: session
// authentication, server discovery, token-paginated event and appearance
// searches, and media retrieval.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/retry"
)

// MotionEventType is the source-side event type ingested as MOTION.
const MotionEventType = "DEVICE_CLASSIFIED_OBJECT_MOTION_START"

// ErrSessionExpired marks a rejected session token; the client re-logs-in
// once and replays the request before surfacing it.
var ErrSessionExpired = errors.New("source session expired")

type ServerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawEvent is one record from /events/search, with the untouched source
// payload retained.
type RawEvent struct {
	Type      string          `json:"type"`
	CameraID  string          `json:"cameraId"`
	Timestamp time.Time       `json:"timestamp"`
	ServerID  string          `json:"-"`
	Raw       json.RawMessage `json:"-"`
}

// RawAppearance is one record from /appearance/search-by-description.
type RawAppearance struct {
	CameraID          string          `json:"-"`
	Timestamp         time.Time       `json:"timestamp"`
	SnapshotTimestamp *time.Time      `json:"-"`
	Raw               json.RawMessage `json:"-"`
}

type Client struct {
	siteID   string
	baseURL  string
	cfg      config.SourceConfig
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	policy   retry.Policy
	pageSize int

	mu      sync.Mutex
	session string
}

func NewClient(siteID, baseURL string, cfg config.SourceConfig, policy retry.Policy) *Client {
	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:     "camera-api-" + siteID,
		Interval: time.Minute,
		Timeout:  2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("camera api breaker state change", "name", name, "from", from.String(), "to", to.String())
			observability.SourceBreakerState.WithLabelValues(siteID).Set(breakerStateValue(to))
		},
	})

	return &Client{
		siteID:   siteID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: transport},
		breaker:  cb,
		policy:   policy,
		pageSize: cfg.PageSize,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// authorizationToken builds the login token: nonce:epoch:sha256(epoch+userKey).
func (c *Client) authorizationToken() string {
	epoch := time.Now().Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", epoch, c.cfg.UserKey)))
	return fmt.Sprintf("%s:%d:%s", c.cfg.UserNonce, epoch, hex.EncodeToString(sum[:]))
}

// Login establishes a session token. Safe to call concurrently; the newest
// token wins.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username":           c.cfg.Username,
		"password":           c.cfg.Password,
		"clientName":         c.cfg.ClientName,
		"authorizationToken": c.authorizationToken(),
	})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Result struct {
			Session string `json:"session"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if out.Result.Session == "" {
		return fmt.Errorf("login: empty session token")
	}

	c.mu.Lock()
	c.session = out.Result.Session
	c.mu.Unlock()
	return nil
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// do performs one request through the breaker and retry policy, re-logging-in
// once on a rejected session.
func (c *Client) do(ctx context.Context, build func(session string) (*http.Request, error)) ([]byte, error) {
	if c.sessionToken() == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	attempt := func() ([]byte, error) {
		req, err := build(c.sessionToken())
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrSessionExpired
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			// Client errors are permanent; retrying cannot help.
			return nil, retryPermanent(fmt.Errorf("source returned status %d: %s", resp.StatusCode, truncate(body, 200)))
		}
		return body, nil
	}

	var body []byte
	op := func() error {
		b, err := c.breaker.Execute(attempt)
		if errors.Is(err, ErrSessionExpired) {
			if lerr := c.Login(ctx); lerr != nil {
				return lerr
			}
			b, err = c.breaker.Execute(attempt)
		}
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	policy := c.policy
	policy.Retryable = func(err error) bool {
		var perm *permanentError
		if errors.As(err, &perm) {
			return false
		}
		// A tripped breaker will not recover within one tick's retries.
		return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
	}
	if err := policy.Do(ctx, op); err != nil {
		return nil, err
	}
	return body, nil
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func retryPermanent(err error) error { return &permanentError{err: err} }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Servers lists the servers registered at this site. Multi-server sites fan
// polls out to every entry.
func (c *Client) Servers(ctx context.Context) ([]ServerInfo, error) {
	body, err := c.do(ctx, func(session string) (*http.Request, error) {
		u := fmt.Sprintf("%s/server/ids?session=%s", c.baseURL, url.QueryEscape(session))
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	var out struct {
		Result struct {
			Servers []ServerInfo `json:"servers"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode servers: %w", err)
	}
	return out.Result.Servers, nil
}

type eventsPage struct {
	Result struct {
		Events []json.RawMessage `json:"events"`
		Token  string            `json:"token"`
	} `json:"result"`
}

// SearchEvents walks /events/search for one server and window, invoking fn
// per page. Pagination starts with a TIME_RANGE query and continues by token;
// continuation requests must not repeat serverId or limit.
func (c *Client) SearchEvents(ctx context.Context, serverID string, from, to time.Time, fn func([]RawEvent) error) error {
	params := url.Values{
		"queryType": {"TIME_RANGE"},
		"serverId":  {serverID},
		"from":      {from.UTC().Format(time.RFC3339Nano)},
		"to":        {to.UTC().Format(time.RFC3339Nano)},
		"limit":     {fmt.Sprintf("%d", c.pageSize)},
	}

	for {
		q := params
		body, err := c.do(ctx, func(session string) (*http.Request, error) {
			qc := url.Values{}
			for k, v := range q {
				qc[k] = v
			}
			qc.Set("session", session)
			u := c.baseURL + "/events/search?" + qc.Encode()
			return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		})
		if err != nil {
			return fmt.Errorf("search events: %w", err)
		}

		var page eventsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode events page: %w", err)
		}

		if len(page.Result.Events) > 0 {
			events := make([]RawEvent, 0, len(page.Result.Events))
			for _, raw := range page.Result.Events {
				var ev RawEvent
				if err := json.Unmarshal(raw, &ev); err != nil {
					slog.Warn("skipping undecodable source event", "site", c.siteID, "error", err)
					continue
				}
				ev.ServerID = serverID
				ev.Raw = raw
				events = append(events, ev)
			}
			if err := fn(events); err != nil {
				return err
			}
		}

		if page.Result.Token == "" {
			return nil
		}
		params = url.Values{
			"queryType": {"CONTINUE"},
			"token":     {page.Result.Token},
		}
	}
}

type appearancesPage struct {
	Result struct {
		Results []json.RawMessage `json:"results"`
		Token   string            `json:"token"`
	} `json:"result"`
}

// genderDescriptors enumerate every human appearance; the appearance search
// requires at least one descriptor per query.
var genderDescriptors = [][]map[string]string{
	{{"facet": "GENDER", "tag": "MALE"}},
	{{"facet": "GENDER", "tag": "FEMALE"}},
}

// SearchAppearances walks /appearance/search-by-description for the window,
// one token-paginated pass per gender descriptor, invoking fn per page.
func (c *Client) SearchAppearances(ctx context.Context, from, to time.Time, fn func([]RawAppearance) error) error {
	for _, descriptors := range genderDescriptors {
		payload := map[string]interface{}{
			"queryType":        "TIME_RANGE",
			"queryDescriptors": descriptors,
			"from":             from.UTC().Format(time.RFC3339Nano),
			"to":               to.UTC().Format(time.RFC3339Nano),
			"limit":            c.pageSize,
			"scanType":         "FULL",
		}

		for {
			p := payload
			body, err := c.do(ctx, func(session string) (*http.Request, error) {
				pc := map[string]interface{}{"session": session}
				for k, v := range p {
					pc[k] = v
				}
				raw, err := json.Marshal(pc)
				if err != nil {
					return nil, err
				}
				req, err := http.NewRequestWithContext(ctx, http.MethodPost,
					c.baseURL+"/appearance/search-by-description", bytes.NewReader(raw))
				if err != nil {
					return nil, err
				}
				req.Header.Set("Content-Type", "application/json")
				return req, nil
			})
			if err != nil {
				return fmt.Errorf("search appearances: %w", err)
			}

			var page appearancesPage
			if err := json.Unmarshal(body, &page); err != nil {
				return fmt.Errorf("decode appearances page: %w", err)
			}

			if len(page.Result.Results) > 0 {
				items := make([]RawAppearance, 0, len(page.Result.Results))
				for _, raw := range page.Result.Results {
					app, err := decodeAppearance(raw)
					if err != nil {
						slog.Warn("skipping undecodable appearance", "site", c.siteID, "error", err)
						continue
					}
					items = append(items, app)
				}
				if err := fn(items); err != nil {
					return err
				}
			}

			if page.Result.Token == "" {
				break
			}
			payload = map[string]interface{}{
				"queryType": "CONTINUE",
				"token":     page.Result.Token,
			}
		}
	}
	return nil
}

func decodeAppearance(raw json.RawMessage) (RawAppearance, error) {
	var item struct {
		DeviceGid string    `json:"deviceGid"`
		Timestamp time.Time `json:"timestamp"`
		Snapshots []struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"snapshots"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return RawAppearance{}, err
	}
	app := RawAppearance{
		CameraID:  item.DeviceGid,
		Timestamp: item.Timestamp,
		Raw:       raw,
	}
	if len(item.Snapshots) > 0 {
		ts := item.Snapshots[0].Timestamp
		app.SnapshotTimestamp = &ts
	}
	return app, nil
}

// Media fetches the JPEG frame for a camera at a timestamp.
func (c *Client) Media(ctx context.Context, cameraID string, ts time.Time) ([]byte, error) {
	body, err := c.do(ctx, func(session string) (*http.Request, error) {
		q := url.Values{
			"session":  {session},
			"cameraId": {cameraID},
			"t":        {ts.UTC().Format(time.RFC3339Nano)},
			"format":   {"jpeg"},
		}
		u := c.baseURL + "/media?" + q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	return body, nil
}
