package adapter

import (
	"testing"
	"time"

	"secretary/internal/model"

	"github.com/slack-go/slack/slackevents"
)

func testSlack() *Slack {
	return NewSlack(SlackConfig{
		BotToken: "xoxb-test",
		AppToken: "xapp-test",
		Logger:   testLogger(),
	})
}

func TestSlack_NormalizeMessage_Channel(t *testing.T) {
	s := testSlack()
	msg := s.normalizeMessage("C024BE91L", "U12345", "배포 검토 부탁드립니다",
		"1712345678.000200", "", false, slackevents.EventsAPIEvent{})

	if msg.ID != "slack_C024BE91L_1712345678.000200" {
		t.Fatalf("unexpected id %q", msg.ID)
	}
	if msg.Channel != model.ChannelSlack || msg.ChannelID != "C024BE91L" || msg.SenderID != "U12345" {
		t.Fatalf("identity fields wrong: %+v", msg)
	}
	if !msg.IsGroup {
		t.Fatal("C-channel should be a group conversation")
	}
	if msg.ReplyToID != "" {
		t.Fatalf("no thread, no reply id, got %q", msg.ReplyToID)
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("normalized message invalid: %v", err)
	}
}

func TestSlack_NormalizeMessage_DM(t *testing.T) {
	s := testSlack()
	msg := s.normalizeMessage("D0AAAAAAA", "U1", "hi", "1712345678.000200", "", false,
		slackevents.EventsAPIEvent{})
	if msg.IsGroup {
		t.Fatal("D-channel should not be a group conversation")
	}
}

func TestSlack_NormalizeMessage_ThreadReply(t *testing.T) {
	s := testSlack()

	reply := s.normalizeMessage("C1", "U1", "답변입니다", "200.1", "100.1", false,
		slackevents.EventsAPIEvent{})
	if reply.ReplyToID != "100.1" {
		t.Fatalf("expected thread parent as reply id, got %q", reply.ReplyToID)
	}

	// A thread root has thread_ts == ts and is not a reply.
	root := s.normalizeMessage("C1", "U1", "시작", "100.1", "100.1", false,
		slackevents.EventsAPIEvent{})
	if root.ReplyToID != "" {
		t.Fatalf("thread root must not carry a reply id, got %q", root.ReplyToID)
	}
}

func TestSlackTimestamp(t *testing.T) {
	got := slackTimestamp("1712345678.000200")
	if !got.Equal(time.Unix(1712345678, 0)) {
		t.Fatalf("expected unix 1712345678, got %v", got)
	}

	if !slackTimestamp("garbage").IsZero() {
		t.Fatal("garbage timestamp should be zero")
	}
	if !slackTimestamp("").IsZero() {
		t.Fatal("empty timestamp should be zero")
	}
}
