package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"secretary/internal/model"
)

// draftPayload is the on-disk shape of an unsent outbound message.
type draftPayload struct {
	Channel   string `json:"channel"`
	To        string `json:"to"`
	Text      string `json:"text"`
	ReplyTo   string `json:"reply_to,omitempty"`
	CreatedAt string `json:"created_at"`
}

// writeDraft persists an unconfirmed outbound message under dir as
// draft_<recipient>_<YYYYMMDD_HHMMSS>.json and returns the path. This file
// is the sole observable side effect of a non-confirmed send.
func writeDraft(dir string, msg model.OutboundMessage) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create draft dir %s: %w", dir, err)
	}

	now := time.Now()
	path := filepath.Join(dir,
		fmt.Sprintf("draft_%s_%s.json", msg.To, now.Format("20060102_150405")))

	payload := draftPayload{
		Channel:   string(msg.Channel),
		To:        msg.To,
		Text:      msg.Text,
		ReplyTo:   msg.ReplyTo,
		CreatedAt: now.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write draft: %w", err)
	}
	return path, nil
}

// draftResult wraps writeDraft into the SendResult an adapter returns for a
// non-confirmed send.
func draftResult(dir string, msg model.OutboundMessage) model.SendResult {
	path, err := writeDraft(dir, msg)
	if err != nil {
		return model.SendResult{Success: false, Error: err.Error()}
	}
	return model.SendResult{Success: true, DraftPath: path}
}
