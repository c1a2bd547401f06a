// Package telegram sends analyst notifications through the Telegram Bot API.
// It announces events that arrived over a subscription and reports mutations
// the gateway refused, retrying delivery with a linear backoff.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/seismerge/internal/eventutil"
	"github.com/rewired-gh/seismerge/internal/models"
)

// maxListedEvents bounds the number of events rendered in one message.
const maxListedEvents = 10

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// NotifyEventsCreated announces events that were merged into the open interval.
func (c *Client) NotifyEventsCreated(ctx context.Context, interval models.TimeInterval, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	return c.send(ctx, formatEventsCreated(interval, events))
}

// NotifyMutationFailure reports a mutation the gateway did not accept.
func (c *Client) NotifyMutationFailure(ctx context.Context, operation, target string, cause error) error {
	return c.send(ctx, formatMutationFailure(operation, target, cause))
}

func (c *Client) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

func formatEventsCreated(interval models.TimeInterval, events []models.Event) string {
	var b strings.Builder
	b.WriteString("*New events*\n")
	fmt.Fprintf(&b, "Interval: %s\n\n", escapeMarkdownV2(formatInterval(interval)))

	for i, event := range events {
		if i == maxListedEvents {
			fmt.Fprintf(&b, "\\.\\.\\. and %d more\n", len(events)-maxListedEvents)
			break
		}
		fmt.Fprintf(&b, "%d\\. `%s` %s\n", i+1, escapeCode(event.ID), escapeMarkdownV2(string(event.Status)))

		solution := preferredSolution(&event)
		if solution == nil {
			continue
		}
		loc := solution.Location
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(fmt.Sprintf("%s lat %.2f lon %.2f depth %.1f km",
			formatEpoch(loc.Time), loc.LatitudeDegrees, loc.LongitudeDegrees, loc.DepthKm)))
	}
	return b.String()
}

func formatMutationFailure(operation, target string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s failed*\n", escapeMarkdownV2(operation))
	if target != "" {
		fmt.Fprintf(&b, "Target: `%s`\n", escapeCode(target))
	}
	if cause != nil {
		fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(cause.Error()))
	}
	return b.String()
}

// preferredSolution resolves the preferred location solution of the latest
// solution set, or nil when the event has none.
func preferredSolution(event *models.Event) *models.LocationSolution {
	hyp := event.Hypothesis()
	id, ok := eventutil.PreferredLocationID(hyp, eventutil.DefaultRestraintOrder)
	if !ok {
		return nil
	}
	solution, ok := eventutil.LocationSolutionByID(hyp, id)
	if !ok {
		return nil
	}
	return solution
}

func formatInterval(interval models.TimeInterval) string {
	return formatEpoch(interval.StartTimeSecs) + " to " + formatEpoch(interval.EndTimeSecs)
}

func formatEpoch(secs float64) string {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC().Format("2006-01-02 15:04:05")
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! \
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a code span, where only ` and \ are special.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
