package facematch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/retry"
)

// recognitionClient talks to the external recognition service over HTTP. The
// service owns the face collection; this client only moves bytes and maps
// its "no faces in the image" rejection to ErrNoFace.
type recognitionClient struct {
	baseURL      string
	apiKey       string
	collectionID string
	http         *http.Client
	policy       retry.Policy
}

func NewRecognitionClient(cfg config.MatcherConfig, policy retry.Policy) Client {
	return &recognitionClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		collectionID: cfg.CollectionID,
		http:         &http.Client{Timeout: cfg.Timeout},
		policy:       policy,
	}
}

type searchResponse struct {
	FaceMatches []struct {
		Similarity float64 `json:"similarity"`
		Face       struct {
			FaceID string `json:"faceId"`
		} `json:"face"`
	} `json:"faceMatches"`
}

type indexResponse struct {
	FaceRecords []struct {
		Face struct {
			FaceID     string  `json:"faceId"`
			Confidence float64 `json:"confidence"`
		} `json:"face"`
	} `json:"faceRecords"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *recognitionClient) Search(ctx context.Context, image []byte, maxCandidates int) ([]Candidate, error) {
	body, err := c.post(ctx, fmt.Sprintf("/collections/%s/search", c.collectionID), map[string]interface{}{
		"image":    base64.StdEncoding.EncodeToString(image),
		"maxFaces": maxCandidates,
	})
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]Candidate, 0, len(out.FaceMatches))
	for _, m := range out.FaceMatches {
		candidates = append(candidates, Candidate{
			FaceID:     m.Face.FaceID,
			Similarity: normalize(m.Similarity),
		})
	}
	return candidates, nil
}

func (c *recognitionClient) Index(ctx context.Context, image []byte) (string, float64, error) {
	body, err := c.post(ctx, fmt.Sprintf("/collections/%s/index", c.collectionID), map[string]interface{}{
		"image":    base64.StdEncoding.EncodeToString(image),
		"maxFaces": 1,
	})
	if err != nil {
		return "", 0, err
	}

	var out indexResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("decode index response: %w", err)
	}
	if len(out.FaceRecords) == 0 {
		return "", 0, ErrNoFace
	}
	face := out.FaceRecords[0].Face
	return face.FaceID, normalize(face.Confidence), nil
}

// normalize maps percentage-scale scores (0-100) into [0,1]; scores already
// in [0,1] pass through.
func normalize(score float64) float64 {
	if score > 1 {
		return score / 100
	}
	return score
}

func (c *recognitionClient) post(ctx context.Context, path string, payload map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
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

		if resp.StatusCode >= 400 {
			var svcErr serviceError
			if json.Unmarshal(b, &svcErr) == nil &&
				svcErr.Code == "InvalidParameterException" &&
				strings.Contains(svcErr.Message, "no faces in the image") {
				return ErrNoFace
			}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("recognition service status %d", resp.StatusCode)
			}
			return &permanentError{fmt.Errorf("recognition service status %d: %s", resp.StatusCode, truncate(b, 200))}
		}
		body = b
		return nil
	}

	policy := c.policy
	policy.Retryable = func(err error) bool {
		var perm *permanentError
		return !errors.Is(err, ErrNoFace) && !errors.As(err, &perm)
	}
	if err := policy.Do(ctx, op); err != nil {
		return nil, err
	}
	return body, nil
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
