// Package pipeline turns one normalized message into classification plus
// side effects: priority analysis, action detection, persistence,
// notification, and action dispatch. Processing is synchronous per message
// and carries no cross-message state beyond the notification rate limiter.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"secretary/internal/model"
	"secretary/internal/storage"
)

// Defaults for the classification keyword sets. Callers override them
// field-by-field through Config; an unset field keeps the default.
var (
	defaultUrgentKeywords = []string{
		"긴급", "urgent", "ASAP", "지금", "바로", "즉시", "빨리", "급함",
	}
	defaultActionKeywords = []string{
		"해주세요", "부탁", "요청", "확인", "검토", "답변", "회신", "처리",
	}
	defaultDeadlinePatterns = []string{
		`(\d{1,2})[/.](\d{1,2})\s*까지`, // 2/10 까지, 2.10까지
		`(\d{1,2})일\s*까지`,            // 10일 까지
		`오늘\s*(중|까지|내)`,              // 오늘 중, 오늘까지
		`내일\s*(까지|중)`,                // 내일까지, 내일 중
		`이번\s*주\s*(내|까지)`,            // 이번 주 내
	}
)

// Config tunes the pipeline. Empty keyword/pattern lists and a
// non-positive rate limit fall back to defaults; ToastEnabled is taken as
// given, so start from DefaultConfig when only overriding some fields.
type Config struct {
	UrgentKeywords     []string
	ActionKeywords     []string
	DeadlinePatterns   []string
	ToastEnabled       bool
	RateLimitPerMinute int
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		UrgentKeywords:     defaultUrgentKeywords,
		ActionKeywords:     defaultActionKeywords,
		DeadlinePatterns:   defaultDeadlinePatterns,
		ToastEnabled:       true,
		RateLimitPerMinute: 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.UrgentKeywords) == 0 {
		c.UrgentKeywords = d.UrgentKeywords
	}
	if len(c.ActionKeywords) == 0 {
		c.ActionKeywords = d.ActionKeywords
	}
	if len(c.DeadlinePatterns) == 0 {
		c.DeadlinePatterns = d.DeadlinePatterns
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = d.RateLimitPerMinute
	}
	return c
}

// Handler is an externally registered callback invoked after the built-in
// stages. Each handler runs in its own error boundary; one handler's panic
// never blocks the next.
type Handler func(msg *model.NormalizedMessage, result *model.PipelineResult)

// Pipeline processes inbound messages through the fixed stage order:
// priority analysis, action detection, storage, notification, action
// dispatch, custom handlers. Stages are best-effort: a stage failure is
// recorded in the result and later stages still run.
type Pipeline struct {
	store      *storage.Store
	cfg        Config
	patterns   []*regexp.Regexp
	limiter    *slidingWindow
	notifier   Notifier
	dispatcher Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	handlers []Handler
}

// New builds a pipeline over store. An invalid deadline pattern is a
// configuration error and fails construction.
func New(store *storage.Store, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	patterns := make([]*regexp.Regexp, 0, len(cfg.DeadlinePatterns))
	for _, p := range cfg.DeadlinePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid deadline pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Pipeline{
		store:      store,
		cfg:        cfg,
		patterns:   patterns,
		limiter:    newSlidingWindow(cfg.RateLimitPerMinute),
		notifier:   &logNotifier{logger: logger},
		dispatcher: &recordDispatcher{logger: logger},
		logger:     logger,
	}, nil
}

// SetNotifier replaces the notification sink. Call before processing starts.
func (p *Pipeline) SetNotifier(n Notifier) {
	if n != nil {
		p.notifier = n
	}
}

// SetDispatcher replaces the action dispatch target. Call before processing
// starts.
func (p *Pipeline) SetDispatcher(d Dispatcher) {
	if d != nil {
		p.dispatcher = d
	}
}

// AddHandler appends a custom handler; handlers run in registration order.
func (p *Pipeline) AddHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Process runs every stage against msg, mutating its Priority and HasAction
// fields in place, and returns the per-message result. It never returns an
// error: stage failures are captured in result.Error so one bad message
// cannot crash an adapter loop.
func (p *Pipeline) Process(ctx context.Context, msg *model.NormalizedMessage) *model.PipelineResult {
	result := &model.PipelineResult{MessageID: msg.ID}

	// Stage 1: priority analysis.
	priority := p.analyzePriority(msg)
	result.Priority = string(priority)
	msg.Priority = priority

	// Stage 2: action detection.
	if actions := p.detectActions(msg); len(actions) > 0 {
		result.HasAction = true
		result.Actions = actions
		msg.HasAction = true
	}

	// Stage 3: storage. A failure is recorded, not fatal; the remaining
	// stages still run.
	if _, err := p.store.SaveMessage(ctx, msg); err != nil {
		result.Error = err.Error()
		p.logger.Error("pipeline storage stage failed", "message_id", msg.ID, "err", err)
	}

	// Stage 4: notification for high/urgent, rate limited, failures
	// swallowed.
	if priority == model.PriorityUrgent || priority == model.PriorityHigh {
		p.sendNotification(msg, result)
	}

	// Stage 5: action dispatch, fire-and-forget.
	if result.HasAction {
		p.dispatcher.Dispatch(ctx, msg, result)
	}

	// Stage 6: custom handlers, each in its own error boundary.
	p.mu.Lock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()
	for _, h := range handlers {
		p.runHandler(h, msg, result)
	}

	result.ProcessedAt = time.Now()
	return result
}

func (p *Pipeline) runHandler(h Handler, msg *model.NormalizedMessage, result *model.PipelineResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline handler panicked", "message_id", msg.ID, "panic", r)
		}
	}()
	h(msg, result)
}

// analyzePriority applies the strict cascade: urgent keyword beats mention
// beats deadline pattern beats the normal default. Order must not change.
func (p *Pipeline) analyzePriority(msg *model.NormalizedMessage) model.Priority {
	textLower := strings.ToLower(msg.Text)

	for _, kw := range p.cfg.UrgentKeywords {
		if strings.Contains(textLower, strings.ToLower(kw)) {
			return model.PriorityUrgent
		}
	}

	if msg.IsMention {
		return model.PriorityHigh
	}

	for _, re := range p.patterns {
		if re.MatchString(msg.Text) {
			return model.PriorityHigh
		}
	}

	return model.PriorityNormal
}

// detectActions runs three independent checks; a message can carry all
// three tags at once.
func (p *Pipeline) detectActions(msg *model.NormalizedMessage) []string {
	textLower := strings.ToLower(msg.Text)
	var actions []string

	for _, kw := range p.cfg.ActionKeywords {
		if strings.Contains(textLower, strings.ToLower(kw)) {
			actions = append(actions, "action_request:"+kw)
			break
		}
	}

	for _, re := range p.patterns {
		if m := re.FindString(msg.Text); m != "" {
			actions = append(actions, "deadline:"+m)
			break
		}
	}

	if strings.ContainsAny(msg.Text, "?") ||
		strings.Contains(msg.Text, "어떻게") ||
		strings.Contains(msg.Text, "언제") ||
		strings.Contains(msg.Text, "왜") {
		actions = append(actions, "question")
	}

	return actions
}

func (p *Pipeline) sendNotification(msg *model.NormalizedMessage, result *model.PipelineResult) {
	if !p.cfg.ToastEnabled {
		return
	}
	if !p.limiter.Allow() {
		p.logger.Debug("notification rate limited", "message_id", msg.ID)
		return
	}

	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(msg.Channel)), sender)
	if result.Priority == string(model.PriorityUrgent) {
		title = "[긴급] " + title
	}

	body := msg.Text
	if runes := []rune(body); len(runes) > 100 {
		body = string(runes[:100])
	}

	if err := p.notifier.Notify(title, body); err != nil {
		// Notification failures are swallowed unconditionally.
		p.logger.Debug("notification failed", "message_id", msg.ID, "err", err)
	}
}

// Stats reports pipeline internals for operational status.
func (p *Pipeline) Stats() map[string]any {
	p.mu.Lock()
	handlers := len(p.handlers)
	p.mu.Unlock()
	return map[string]any{
		"handlers_count":     handlers,
		"rate_limit_current": p.limiter.Len(),
		"rate_limit_max":     p.cfg.RateLimitPerMinute,
		"toast_enabled":      p.cfg.ToastEnabled,
	}
}
