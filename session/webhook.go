package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// Webhook event names.
const (
	EventSessionRTMSStarted = "session.rtms_started"
	EventSessionRTMSStopped = "session.rtms_stopped"
	EventMeetingRTMSStarted = "meeting.rtms_started"
	EventMeetingRTMSStopped = "meeting.rtms_stopped"
	EventURLValidation      = "endpoint.url_validation"
)

// WebhookEvent is the envelope of every webhook notification.
type WebhookEvent struct {
	Event   string          `json:"event"`
	EventTS int64           `json:"event_ts"`
	Payload json.RawMessage `json:"payload"`
}

// StreamPayload announces a media stream, or its end.
type StreamPayload struct {
	SessionID   string `json:"session_id"`
	MeetingUUID string `json:"meeting_uuid"`
	StreamID    string `json:"rtms_stream_id"`
	ServerURLs  string `json:"server_urls"`
}

// ID returns the session identifier, which meeting events carry as meeting_uuid.
func (p StreamPayload) ID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.MeetingUUID
}

// ValidationPayload is the body of an endpoint.url_validation challenge.
type ValidationPayload struct {
	PlainToken string `json:"plainToken"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, errors.Wrap(types.ErrMalformedMessage, err.Error())
	}
	if ev.Event == "" {
		return WebhookEvent{}, errors.Wrap(types.ErrMalformedMessage, "webhook event has no name")
	}
	return ev, nil
}

// DecodePayload unmarshals the event payload into v.
func (e WebhookEvent) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.Wrapf(types.ErrMalformedMessage, "%s has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(types.ErrMalformedMessage, "%s payload: %v", e.Event, err)
	}
	return nil
}
