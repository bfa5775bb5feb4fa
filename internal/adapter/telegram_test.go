package adapter

import (
	"testing"
	"time"

	"secretary/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func testTelegram(allowed ...int64) *Telegram {
	return NewTelegram(TelegramConfig{
		Token:        "test-token",
		AllowedUsers: allowed,
		Logger:       testLogger(),
	})
}

func textUpdate(chatID int64, msgID int, userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: msgID,
			Date:      int(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix()),
			Text:      text,
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "private"},
			From:      &tgbotapi.User{ID: userID, FirstName: "민수", LastName: "김"},
		},
	}
}

func TestTelegram_IsUserAllowed(t *testing.T) {
	open := testTelegram()
	if !open.isUserAllowed(999) {
		t.Fatal("empty allow-list must allow everyone")
	}

	restricted := testTelegram(100, 200)
	if !restricted.isUserAllowed(100) {
		t.Fatal("listed user rejected")
	}
	if restricted.isUserAllowed(999) {
		t.Fatal("unlisted user allowed")
	}
}

func TestTelegram_NormalizeUpdate_Text(t *testing.T) {
	tg := testTelegram()
	msg := tg.normalizeUpdate(textUpdate(12345, 7, 777, "안녕하세요"))

	if msg.ID != "telegram_12345_7" {
		t.Fatalf("expected chat-prefixed id, got %q", msg.ID)
	}
	if msg.Channel != model.ChannelTelegram || msg.ChannelID != "12345" || msg.SenderID != "777" {
		t.Fatalf("identity fields wrong: %+v", msg)
	}
	if msg.SenderName != "민수 김" {
		t.Fatalf("expected first+last name, got %q", msg.SenderName)
	}
	if msg.MessageType != model.TypeText || msg.Text != "안녕하세요" {
		t.Fatalf("text fields wrong: %+v", msg)
	}
	if msg.IsGroup || msg.IsMention {
		t.Fatalf("private non-mention flagged: %+v", msg)
	}
	if msg.RawJSON == "" {
		t.Fatal("raw json not captured")
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("normalized message invalid: %v", err)
	}
}

func TestTelegram_NormalizeUpdate_Photo(t *testing.T) {
	tg := testTelegram()
	u := textUpdate(1, 2, 3, "")
	u.Message.Caption = "사진입니다"
	u.Message.Photo = []tgbotapi.PhotoSize{
		{FileID: "small"}, {FileID: "large"},
	}

	msg := tg.normalizeUpdate(u)
	if msg.MessageType != model.TypeImage {
		t.Fatalf("expected image type, got %q", msg.MessageType)
	}
	if len(msg.MediaURLs) != 1 || msg.MediaURLs[0] != "large" {
		t.Fatalf("expected largest photo file id, got %v", msg.MediaURLs)
	}
	if msg.Text != "사진입니다" {
		t.Fatalf("caption should become text, got %q", msg.Text)
	}
}

func TestTelegram_NormalizeUpdate_Location(t *testing.T) {
	tg := testTelegram()
	u := textUpdate(1, 2, 3, "")
	u.Message.Location = &tgbotapi.Location{Latitude: 37.5665, Longitude: 126.978}

	msg := tg.normalizeUpdate(u)
	if msg.MessageType != model.TypeLocation {
		t.Fatalf("expected location type, got %q", msg.MessageType)
	}
	if msg.Text == "" {
		t.Fatal("location should synthesize text")
	}
}

func TestTelegram_NormalizeUpdate_MentionAndReply(t *testing.T) {
	tg := testTelegram()
	u := textUpdate(1, 2, 3, "@bot 확인해주세요")
	u.Message.Entities = []tgbotapi.MessageEntity{{Type: "mention", Offset: 0, Length: 4}}
	u.Message.ReplyToMessage = &tgbotapi.Message{MessageID: 55}

	msg := tg.normalizeUpdate(u)
	if !msg.IsMention {
		t.Fatal("mention entity not detected")
	}
	if msg.ReplyToID != "55" {
		t.Fatalf("expected reply id 55, got %q", msg.ReplyToID)
	}
}

func TestTelegram_NormalizeUpdate_GroupChat(t *testing.T) {
	tg := testTelegram()
	u := textUpdate(-100, 2, 3, "hi")
	u.Message.Chat.Type = "supergroup"

	msg := tg.normalizeUpdate(u)
	if !msg.IsGroup {
		t.Fatal("supergroup should be flagged as group")
	}
}

func TestTelegram_NormalizeUpdate_SenderNameFallbacks(t *testing.T) {
	tg := testTelegram()

	u := textUpdate(1, 2, 42, "x")
	u.Message.From = &tgbotapi.User{ID: 42, UserName: "handle"}
	if got := tg.normalizeUpdate(u).SenderName; got != "handle" {
		t.Fatalf("expected username fallback, got %q", got)
	}

	u.Message.From = &tgbotapi.User{ID: 42}
	if got := tg.normalizeUpdate(u).SenderName; got != "42" {
		t.Fatalf("expected numeric id fallback, got %q", got)
	}
}

func TestTelegram_HandleUpdate_FiltersDisallowedSender(t *testing.T) {
	tg := testTelegram(100)

	tg.handleUpdate(textUpdate(1, 1, 999, "차단된 사용자"))
	if tg.queue.depth() != 0 {
		t.Fatal("disallowed sender reached the queue")
	}

	tg.handleUpdate(textUpdate(1, 2, 100, "허용된 사용자"))
	if tg.queue.depth() != 1 {
		t.Fatal("allowed sender did not reach the queue")
	}
}

func TestTelegram_HandleUpdate_IgnoresNonMessageUpdates(t *testing.T) {
	tg := testTelegram()
	tg.handleUpdate(tgbotapi.Update{})
	if tg.queue.depth() != 0 {
		t.Fatal("empty update should be ignored")
	}
}
