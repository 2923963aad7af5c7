package rules

import (
	"encoding/json"

	"github.com/your-org/sentinel/internal/models"
)

// EventContext resolves expression field paths against one stored event.
// Top-level fields mirror the event document; "face.*" exposes the face
// decision and "payload.*" descends into the raw source payload.
type EventContext struct {
	event   *models.Event
	payload map[string]interface{}
}

func NewEventContext(ev *models.Event) *EventContext {
	ctx := &EventContext{event: ev}
	if len(ev.Payload) > 0 {
		// A payload that fails to decode resolves as absent rather than
		// failing the whole rule.
		_ = json.Unmarshal(ev.Payload, &ctx.payload)
	}
	return ctx
}

func (c *EventContext) Resolve(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	switch path[0] {
	case "type":
		return string(c.event.Type), true
	case "site_id":
		return c.event.SiteID, true
	case "camera_id":
		return c.event.CameraID, true
	case "source_server_id":
		return c.event.SourceServerID, true
	case "image_ref":
		return c.event.ImageRef, true
	case "observed_at":
		return c.resolveTime(path[1:])
	case "face":
		return c.resolveFace(path[1:])
	case "payload":
		return resolveMap(c.payload, path[1:])
	}
	return nil, false
}

func (c *EventContext) resolveTime(rest []string) (interface{}, bool) {
	t := c.event.ObservedAt.UTC()
	if len(rest) == 0 {
		return t.Format("2006-01-02T15:04:05Z07:00"), true
	}
	switch rest[0] {
	case "hour":
		return t.Hour(), true
	case "weekday":
		return int(t.Weekday()), true
	case "unix":
		return t.Unix(), true
	}
	return nil, false
}

func (c *EventContext) resolveFace(rest []string) (interface{}, bool) {
	d := c.event.FaceDecision
	if len(rest) == 0 {
		return nil, false
	}
	switch rest[0] {
	case "status":
		if d == nil {
			return "", true
		}
		return string(d.Status), true
	case "confidence":
		if d == nil {
			return 0.0, true
		}
		return d.Confidence, true
	case "identified":
		return d.Identified(), true
	case "person_id":
		if d == nil || d.PersonID == nil {
			return "", true
		}
		return d.PersonID.String(), true
	case "external_face_id":
		if d == nil {
			return "", true
		}
		return d.ExternalFaceID, true
	}
	return nil, false
}

func resolveMap(m map[string]interface{}, path []string) (interface{}, bool) {
	if m == nil || len(path) == 0 {
		return nil, false
	}
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	nested, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return resolveMap(nested, path[1:])
}
