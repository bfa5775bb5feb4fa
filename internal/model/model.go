// Package model defines the channel-agnostic message vocabulary shared by
// every gateway component: adapters produce NormalizedMessage values, the
// pipeline annotates them, and storage persists them.
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ChannelType identifies which adapter owns a message or recipient.
type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelTelegram ChannelType = "telegram"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelKakao    ChannelType = "kakao"
	ChannelSMS      ChannelType = "sms"
	ChannelUnknown  ChannelType = "unknown"
)

// ParseChannelType maps a wire value to a ChannelType, falling back to
// ChannelUnknown for anything unrecognized rather than failing.
func ParseChannelType(s string) ChannelType {
	switch ChannelType(s) {
	case ChannelEmail, ChannelTelegram, ChannelWhatsApp, ChannelDiscord,
		ChannelSlack, ChannelKakao, ChannelSMS, ChannelUnknown:
		return ChannelType(s)
	}
	return ChannelUnknown
}

func (c *ChannelType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ParseChannelType(s)
	return nil
}

// MessageType describes the payload shape. For non-text types the Text field
// carries a caption or placeholder, not the payload itself.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeHTML     MessageType = "html"
	TypeMarkdown MessageType = "markdown"
	TypeImage    MessageType = "image"
	TypeFile     MessageType = "file"
	TypeVoice    MessageType = "voice"
	TypeLocation MessageType = "location"
	TypeRich     MessageType = "rich"
)

// ParseMessageType falls back to TypeText for unrecognized wire values.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case TypeText, TypeHTML, TypeMarkdown, TypeImage, TypeFile,
		TypeVoice, TypeLocation, TypeRich:
		return MessageType(s)
	}
	return TypeText
}

func (m *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = ParseMessageType(s)
	return nil
}

// Priority is assigned by the pipeline, never by adapters. The empty string
// means "not yet analyzed".
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority returns ok=false for unknown values; unlike the other enums
// an unparseable priority stays absent instead of defaulting.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(s), true
	}
	return "", false
}

// Rank gives the total order low < normal < high < urgent. Absent sorts
// below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityNormal:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, _ := ParsePriority(s)
	*p = parsed
	return nil
}

// NormalizedMessage is the single in-memory representation of an inbound
// message, independent of the source platform. ID is platform-unique, not
// globally unique; storage keys on ID alone, so adapters whose platform IDs
// could collide must prefix them with the channel name.
type NormalizedMessage struct {
	ID          string      `json:"id"`
	Channel     ChannelType `json:"channel"`
	ChannelID   string      `json:"channel_id"`
	SenderID    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name,omitempty"`
	Text        string      `json:"text"`
	MessageType MessageType `json:"message_type"`
	Timestamp   time.Time   `json:"timestamp"`
	IsGroup     bool        `json:"is_group"`
	IsMention   bool        `json:"is_mention"`
	ReplyToID   string      `json:"reply_to_id,omitempty"`
	MediaURLs   []string    `json:"media_urls,omitempty"`
	RawJSON     string      `json:"raw_json,omitempty"`

	// Set by the pipeline during processing, not by adapters.
	Priority  Priority `json:"priority,omitempty"`
	HasAction bool     `json:"has_action"`
}

var (
	errEmptyID        = errors.New("message id is empty")
	errEmptyChannel   = errors.New("message channel is empty")
	errEmptyChannelID = errors.New("message channel_id is empty")
	errEmptySenderID  = errors.New("message sender_id is empty")
)

// Validate enforces the required-field invariant. Adapters call this before
// handing a message to the gateway.
func (m *NormalizedMessage) Validate() error {
	switch {
	case m.ID == "":
		return errEmptyID
	case m.Channel == "":
		return errEmptyChannel
	case m.ChannelID == "":
		return errEmptyChannelID
	case m.SenderID == "":
		return errEmptySenderID
	}
	return nil
}

// Normalize fills the defaults an adapter may have left unset: message type
// and origination timestamp.
func (m *NormalizedMessage) Normalize() {
	if m.MessageType == "" {
		m.MessageType = TypeText
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
}

// OutboundMessage is a caller-built reply. Confirmed=false must never reach
// a real recipient; adapters write a draft artifact instead.
type OutboundMessage struct {
	Channel   ChannelType `json:"channel"`
	To        string      `json:"to"`
	Text      string      `json:"text"`
	DraftFile string      `json:"draft_file,omitempty"`
	Confirmed bool        `json:"confirmed"`
	SentAt    time.Time   `json:"sent_at,omitzero"`
	ReplyTo   string      `json:"reply_to,omitempty"`
}

// MarkSent records a completed delivery on the message itself.
func (m *OutboundMessage) MarkSent() {
	m.Confirmed = true
	m.SentAt = time.Now()
}

// SendResult is the outcome of one send attempt. On success exactly one of
// {MessageID+SentAt, DraftPath} is populated; on failure only Error is.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at,omitzero"`
	DraftPath string    `json:"draft_path,omitempty"`
}

// PipelineResult is the per-message outcome of one pipeline run. Error holds
// a stage failure that was captured rather than propagated.
type PipelineResult struct {
	MessageID   string    `json:"message_id"`
	Priority    string    `json:"priority,omitempty"`
	HasAction   bool      `json:"has_action"`
	Actions     []string  `json:"actions,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}
