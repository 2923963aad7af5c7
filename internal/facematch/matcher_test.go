package facematch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
)

type stubClient struct {
	candidates []Candidate
	searchErr  error
	indexID    string
	indexErr   error
	indexed    int
}

func (s *stubClient) Search(ctx context.Context, image []byte, maxCandidates int) ([]Candidate, error) {
	return s.candidates, s.searchErr
}

func (s *stubClient) Index(ctx context.Context, image []byte) (string, float64, error) {
	s.indexed++
	return s.indexID, 0.99, s.indexErr
}

func newTestMatcher(c Client) *Matcher {
	return NewMatcher(c, config.MatcherConfig{
		MatchThreshold:  0.80,
		AmbiguityMargin: 0.05,
		MaxCandidates:   10,
	})
}

func TestMatchOrIndexEmptyCollection(t *testing.T) {
	client := &stubClient{indexID: "face-new"}
	m := newTestMatcher(client)

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceIndexed, d.Status)
	assert.Equal(t, "face-new", d.ExternalFaceID)
	assert.Equal(t, 1, client.indexed)
}

func TestMatchOrIndexAboveThreshold(t *testing.T) {
	client := &stubClient{candidates: []Candidate{
		{FaceID: "face-a", Similarity: 0.93},
		{FaceID: "face-b", Similarity: 0.70},
	}}
	m := newTestMatcher(client)

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceMatched, d.Status)
	assert.Equal(t, "face-a", d.ExternalFaceID)
	assert.InDelta(t, 0.93, d.Confidence, 1e-9)
	assert.Equal(t, 0, client.indexed, "a match must not index")
}

func TestMatchOrIndexBelowThreshold(t *testing.T) {
	client := &stubClient{
		candidates: []Candidate{{FaceID: "face-a", Similarity: 0.79}},
		indexID:    "face-new",
	}
	m := newTestMatcher(client)

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceIndexed, d.Status)
	assert.Equal(t, "face-new", d.ExternalFaceID)
}

func TestMatchOrIndexAmbiguousTopPair(t *testing.T) {
	// Two distinct faces both qualified and within the margin: refuse the
	// match and index instead.
	client := &stubClient{
		candidates: []Candidate{
			{FaceID: "face-a", Similarity: 0.91},
			{FaceID: "face-b", Similarity: 0.89},
		},
		indexID: "face-new",
	}
	m := newTestMatcher(client)

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceIndexed, d.Status)
	assert.Equal(t, 1, client.indexed)
}

func TestMatchOrIndexDuplicateFaceNotAmbiguous(t *testing.T) {
	// The same face appearing twice near the top is not an identity conflict.
	client := &stubClient{candidates: []Candidate{
		{FaceID: "face-a", Similarity: 0.91},
		{FaceID: "face-a", Similarity: 0.90},
	}}
	m := newTestMatcher(client)

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceMatched, d.Status)
	assert.Equal(t, "face-a", d.ExternalFaceID)
}

func TestMatchOrIndexNoFace(t *testing.T) {
	m := newTestMatcher(&stubClient{searchErr: ErrNoFace})

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceNoFace, d.Status)
	assert.Empty(t, d.ExternalFaceID)
	assert.NoError(t, d.Validate())
}

func TestMatchOrIndexNoFaceOnIndex(t *testing.T) {
	m := newTestMatcher(&stubClient{indexErr: ErrNoFace})

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceNoFace, d.Status)
}

func TestMatchOrIndexServiceFailure(t *testing.T) {
	m := newTestMatcher(&stubClient{searchErr: errors.New("connection refused")})

	d := m.MatchOrIndex(context.Background(), []byte("img"))
	assert.Equal(t, models.FaceError, d.Status)
	assert.Contains(t, d.Error, "connection refused")
	assert.NoError(t, d.Validate())
}
