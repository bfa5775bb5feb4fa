package adapter

import (
	"testing"
	"time"

	"secretary/internal/model"
)

func TestKakao_NormalizeFrame(t *testing.T) {
	k := NewKakao(KakaoConfig{BridgeURL: "ws://127.0.0.1:8765/ws", Logger: testLogger()})

	frame := kakaoFrame{
		Type:       "message",
		ID:         "abc123",
		Room:       "가족방",
		Sender:     "user-1",
		SenderName: "엄마",
		Text:       "저녁에 전화해",
		IsGroup:    true,
		ReplyTo:    "prev-1",
		Timestamp:  1712345678,
	}
	raw := []byte(`{"type":"message","id":"abc123"}`)

	msg := k.normalizeFrame(frame, raw)
	if msg.ID != "kakao_abc123" {
		t.Fatalf("expected prefixed id, got %q", msg.ID)
	}
	if msg.Channel != model.ChannelKakao || msg.ChannelID != "가족방" || msg.SenderID != "user-1" {
		t.Fatalf("identity fields wrong: %+v", msg)
	}
	if msg.SenderName != "엄마" || msg.Text != "저녁에 전화해" {
		t.Fatalf("content fields wrong: %+v", msg)
	}
	if !msg.IsGroup || msg.ReplyToID != "prev-1" {
		t.Fatalf("flags wrong: %+v", msg)
	}
	if !msg.Timestamp.Equal(time.Unix(1712345678, 0)) {
		t.Fatalf("timestamp wrong: %v", msg.Timestamp)
	}
	if msg.RawJSON != string(raw) {
		t.Fatalf("raw frame not preserved: %q", msg.RawJSON)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("normalized message invalid: %v", err)
	}
}

func TestKakao_NormalizeFrame_MissingTimestampDefaults(t *testing.T) {
	k := NewKakao(KakaoConfig{BridgeURL: "ws://127.0.0.1:8765/ws", Logger: testLogger()})
	msg := k.normalizeFrame(kakaoFrame{Type: "message", ID: "x", Room: "r", Sender: "s"}, nil)
	if msg.Timestamp.IsZero() {
		t.Fatal("missing timestamp should default to now")
	}
	if msg.MessageType != model.TypeText {
		t.Fatalf("expected text default, got %q", msg.MessageType)
	}
}
