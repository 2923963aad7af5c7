// Package hubclient is the HTTP client for the hub's internal API, shared by
// the collector and the threat intel engine.
package hubclient

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
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/retry"
	"github.com/your-org/sentinel/pkg/dto"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  retry.Policy
}

func New(cfg config.HubConfig, policy retry.Policy) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		policy:  policy,
	}
}

// Ingest submits one batch. The idempotency token makes resubmission after a
// lost ack safe: the hub replays the recorded outcomes instead of
// reprocessing.
func (c *Client) Ingest(ctx context.Context, events []models.Event, idempotencyToken string) ([]models.IngestOutcome, error) {
	headers := map[string]string{}
	if idempotencyToken != "" {
		headers["X-Idempotency-Key"] = idempotencyToken
	}
	var resp dto.IngestResponse
	if err := c.do(ctx, http.MethodPost, "/v1/ingest", headers, dto.IngestRequest{Events: events}, &resp); err != nil {
		return nil, fmt.Errorf("ingest batch: %w", err)
	}
	return resp.Outcomes, nil
}

// LatestTimestamp returns the newest observed_at stored for a site and event
// type, or nil when the site has no events of that type yet.
func (c *Client) LatestTimestamp(ctx context.Context, siteID string, typ models.EventType) (*time.Time, error) {
	q := url.Values{}
	q.Set("site_id", siteID)
	q.Set("type", string(typ))
	var resp dto.LatestTimestampResponse
	if err := c.do(ctx, http.MethodGet, "/v1/events/latest-timestamp?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("latest timestamp: %w", err)
	}
	return resp.LatestTimestamp, nil
}

// EventsNeedingRecognition lists stored appearance events whose face decision
// is missing or errored and that carry an image.
func (c *Client) EventsNeedingRecognition(ctx context.Context, limit int) ([]models.Event, error) {
	var resp dto.UnevaluatedResponse
	path := "/v1/events/for-recognition?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("events needing recognition: %w", err)
	}
	return resp.Events, nil
}

func (c *Client) AttachRecognition(ctx context.Context, updates []dto.RecognitionUpdate) (int64, error) {
	var resp dto.UpdatedCountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/with-recognition", nil, dto.WithRecognitionRequest{Updates: updates}, &resp); err != nil {
		return 0, fmt.Errorf("attach recognition: %w", err)
	}
	return resp.UpdatedCount, nil
}

// EventsNeedingMedia lists stored events without an image reference.
func (c *Client) EventsNeedingMedia(ctx context.Context, limit int) ([]models.Event, error) {
	var resp dto.UnevaluatedResponse
	path := "/v1/events/for-media?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("events needing media: %w", err)
	}
	return resp.Events, nil
}

func (c *Client) AttachMedia(ctx context.Context, updates []dto.MediaUpdate) (int64, error) {
	var resp dto.UpdatedCountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/with-media", nil, dto.WithMediaRequest{Updates: updates}, &resp); err != nil {
		return 0, fmt.Errorf("attach media: %w", err)
	}
	return resp.UpdatedCount, nil
}

// Unevaluated fetches one page of never-evaluated events ordered by
// (observed_at, id). Pass the cursor fields from the previous response to
// continue.
func (c *Client) Unevaluated(ctx context.Context, limit int, afterTS *time.Time, afterID *uuid.UUID) (*dto.UnevaluatedResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if afterTS != nil {
		q.Set("after_ts", afterTS.UTC().Format(time.RFC3339Nano))
	}
	if afterID != nil {
		q.Set("after_id", afterID.String())
	}
	var resp dto.UnevaluatedResponse
	if err := c.do(ctx, http.MethodGet, "/v1/events/unevaluated?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("unevaluated page: %w", err)
	}
	return &resp, nil
}

func (c *Client) MarkEvaluated(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var resp dto.MarkEvaluatedResponse
	if err := c.do(ctx, http.MethodPost, "/v1/events/evaluated", nil, dto.MarkEvaluatedRequest{EventIDs: ids}, &resp); err != nil {
		return 0, fmt.Errorf("mark evaluated: %w", err)
	}
	return resp.UpdatedCount, nil
}

// EnabledRules returns the rule set the engine evaluates.
func (c *Client) EnabledRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	if err := c.do(ctx, http.MethodGet, "/v1/rules?enabled=true", nil, nil, &rules); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// CreateReports persists a run's reports atomically: all stored or none.
func (c *Client) CreateReports(ctx context.Context, reports []models.AnomalyReport) error {
	if err := c.do(ctx, http.MethodPost, "/v1/reports", nil, dto.CreateReportsRequest{Reports: reports}, nil); err != nil {
		return fmt.Errorf("create reports: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("hub status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return &clientError{status: resp.StatusCode, body: string(b)}
		}
		if out != nil {
			if err := json.Unmarshal(b, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	policy := c.policy
	policy.Retryable = func(err error) bool {
		var ce *clientError
		return !errors.As(err, &ce)
	}
	return policy.Do(ctx, op)
}

type clientError struct {
	status int
	body   string
}

func (e *clientError) Error() string {
	return fmt.Sprintf("hub status %d: %s", e.status, e.body)
}
