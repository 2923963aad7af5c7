// Package facematch wraps the external face-recognition collection and turns
// its search/index primitives into a single match-or-index decision.
package facematch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
)

// ErrNoFace is returned by Client implementations when the service reports
// that the image contains no detectable face. It is a valid outcome, not a
// failure.
var ErrNoFace = errors.New("no face detected in image")

// Candidate is one ranked result from a collection search. Similarity is
// normalized to [0,1].
type Candidate struct {
	FaceID     string
	Similarity float64
}

// Client is the recognition-service boundary.
type Client interface {
	// Search returns candidates ranked by similarity, best first.
	Search(ctx context.Context, image []byte, maxCandidates int) ([]Candidate, error)
	// Index registers the face in the image and returns its new face id and
	// the detection confidence.
	Index(ctx context.Context, image []byte) (string, float64, error)
}

// Matcher applies the match-or-index policy on top of a Client.
type Matcher struct {
	client          Client
	matchThreshold  float64
	ambiguityMargin float64
	maxCandidates   int
}

func NewMatcher(client Client, cfg config.MatcherConfig) *Matcher {
	return &Matcher{
		client:          client,
		matchThreshold:  cfg.MatchThreshold,
		ambiguityMargin: cfg.AmbiguityMargin,
		maxCandidates:   cfg.MaxCandidates,
	}
}

// MatchOrIndex resolves image bytes to a face decision:
//
//   - the best candidate at or above the match threshold wins, unless the
//     runner-up is within the ambiguity margin; then the match is refused
//     and the face is indexed as new, since a duplicate identity can be
//     merged by a curator while a wrong merge is hard to spot;
//   - no candidate above the threshold: the face is indexed as new;
//   - no detectable face: NO_FACE;
//   - a failed service call: ERROR, with the cause kept for retry
//     classification.
//
// MatchOrIndex never returns a non-nil error; failures are encoded in the
// decision so ingestion is never blocked on enrichment.
func (m *Matcher) MatchOrIndex(ctx context.Context, image []byte) models.FaceDecision {
	d := m.matchOrIndex(ctx, image)
	observability.FaceDecisions.WithLabelValues(string(d.Status)).Inc()
	return d
}

func (m *Matcher) matchOrIndex(ctx context.Context, image []byte) models.FaceDecision {
	candidates, err := m.client.Search(ctx, image, m.maxCandidates)
	switch {
	case errors.Is(err, ErrNoFace):
		return models.FaceDecision{Status: models.FaceNoFace}
	case err != nil:
		return models.FaceDecision{Status: models.FaceError, Error: err.Error()}
	}

	if best, ok := m.selectMatch(candidates); ok {
		return models.FaceDecision{
			Status:         models.FaceMatched,
			ExternalFaceID: best.FaceID,
			Confidence:     best.Similarity,
		}
	}

	faceID, confidence, err := m.client.Index(ctx, image)
	switch {
	case errors.Is(err, ErrNoFace):
		return models.FaceDecision{Status: models.FaceNoFace}
	case err != nil:
		return models.FaceDecision{Status: models.FaceError, Error: err.Error()}
	}
	_ = confidence // detection confidence, not a match score

	return models.FaceDecision{
		Status:         models.FaceIndexed,
		ExternalFaceID: faceID,
	}
}

// selectMatch picks the strictly best candidate above the threshold. An
// ambiguous top pair (two distinct faces within the margin) disqualifies the
// match entirely.
func (m *Matcher) selectMatch(candidates []Candidate) (Candidate, bool) {
	var qualified []Candidate
	for _, c := range candidates {
		if c.Similarity >= m.matchThreshold {
			qualified = append(qualified, c)
		}
	}
	if len(qualified) == 0 {
		return Candidate{}, false
	}

	best := qualified[0]
	for _, c := range qualified[1:] {
		if c.Similarity > best.Similarity {
			best = c
		}
	}

	for _, c := range qualified {
		if c.FaceID == best.FaceID {
			continue
		}
		if best.Similarity-c.Similarity < m.ambiguityMargin {
			slog.Debug("ambiguous face match refused",
				"best", best.FaceID, "runner_up", c.FaceID,
				"best_similarity", best.Similarity, "runner_up_similarity", c.Similarity)
			return Candidate{}, false
		}
	}
	return best, true
}
