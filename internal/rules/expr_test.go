package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/models"
)

func testEvent(t *testing.T) *models.Event {
	t.Helper()
	pid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return &models.Event{
		ID:             uuid.New(),
		SiteID:         "hq",
		CameraID:       "lobby-cam",
		SourceServerID: "srv-1",
		Type:           models.EventTypeAppearance,
		ObservedAt:     time.Date(2026, 5, 1, 23, 30, 0, 0, time.UTC),
		ImageRef:       "events/2026/05/01/23-30-00-x.jpg",
		FaceDecision: &models.FaceDecision{
			Status:         models.FaceMatched,
			PersonID:       &pid,
			ExternalFaceID: "face-1",
			Confidence:     0.91,
		},
		Payload: json.RawMessage(`{"zone":{"name":"loading-dock"},"speed":4.2}`),
	}
}

func TestExpressionEvaluation(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"type equality", `type == "APPEARANCE"`, true},
		{"type inequality", `type != "MOTION"`, true},
		{"site match", `site_id == "hq"`, true},
		{"camera contains", `camera_id contains "lobby"`, true},
		{"camera regex", `camera_id matches "^lobby-"`, true},
		{"numeric confidence", `face.confidence >= 0.9`, true},
		{"confidence below", `face.confidence > 0.95`, false},
		{"face status", `face.status == "MATCHED"`, true},
		{"identified flag", `face.identified == true`, true},
		{"after hours", `observed_at.hour >= 22 OR observed_at.hour < 6`, true},
		{"payload nested", `payload.zone.name == "loading-dock"`, true},
		{"payload numeric", `payload.speed > 4`, true},
		{"conjunction", `type == "APPEARANCE" AND face.confidence > 0.8`, true},
		{"failing conjunction", `type == "APPEARANCE" AND site_id == "warehouse"`, false},
		{"disjunction", `site_id == "warehouse" OR site_id == "hq"`, true},
		{"negation", `NOT (type == "MOTION")`, true},
		{"grouping", `(site_id == "hq" OR site_id == "warehouse") AND face.identified == true`, true},
		{"precedence and binds tighter", `site_id == "x" AND site_id == "y" OR site_id == "hq"`, true},
	}

	ev := testEvent(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.expr)
			require.NoError(t, err)

			got, err := expr.Eval(NewEventContext(ev))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"dangling operator", `type ==`},
		{"missing operator", `type "APPEARANCE"`},
		{"unterminated string", `type == "APPEARANCE`},
		{"unbalanced paren", `(type == "APPEARANCE"`},
		{"trailing garbage", `type == "APPEARANCE" site_id`},
		{"bad character", `type == @`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestEvalUnknownFieldErrors(t *testing.T) {
	expr, err := Parse(`nonexistent.field == 1`)
	require.NoError(t, err)

	_, err = expr.Eval(NewEventContext(testEvent(t)))
	assert.Error(t, err)
}

func TestEventContextWithoutDecision(t *testing.T) {
	ev := testEvent(t)
	ev.FaceDecision = nil
	ctx := NewEventContext(ev)

	// Face fields degrade to zero values so rules over mixed batches work.
	v, ok := ctx.Resolve([]string{"face", "status"})
	require.True(t, ok)
	assert.Equal(t, "", v)

	v, ok = ctx.Resolve([]string{"face", "identified"})
	require.True(t, ok)
	assert.Equal(t, false, v)

	v, ok = ctx.Resolve([]string{"face", "confidence"})
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestShortCircuit(t *testing.T) {
	// The right side references an unknown field; AND must not evaluate it
	// when the left side already decides.
	expr, err := Parse(`type == "MOTION" AND bogus.field == 1`)
	require.NoError(t, err)

	got, err := expr.Eval(NewEventContext(testEvent(t)))
	require.NoError(t, err)
	assert.False(t, got)
}
