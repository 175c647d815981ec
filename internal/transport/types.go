package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	Unix         int64
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Key is the channel key used by the game engine and the store ("<chat>:<thread>").
func (t ChatTarget) Key() string {
	return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
}

// ParseChatTarget is the inverse of ChatTarget.Key. A bare chat id is accepted.
func ParseChatTarget(key string) (ChatTarget, error) {
	key = strings.TrimSpace(key)
	chat, thread, hasThread := strings.Cut(key, ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid chat target %q: %w", key, err)
	}
	t := ChatTarget{ChatID: id}
	if hasThread && thread != "" {
		tid, err := strconv.Atoi(thread)
		if err != nil {
			return ChatTarget{}, fmt.Errorf("invalid thread in chat target %q: %w", key, err)
		}
		t.ThreadID = tid
	}
	return t, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// String encodes the ref as an opaque aux handle ("<chat>:<thread>:<message>").
func (r MessageRef) String() string {
	return fmt.Sprintf("%d:%d:%d", r.ChatID, r.ThreadID, r.MessageID)
}

// ParseMessageRef decodes a handle produced by MessageRef.String.
func ParseMessageRef(s string) (MessageRef, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return MessageRef{}, false
	}
	chat, err1 := strconv.ParseInt(parts[0], 10, 64)
	thread, err2 := strconv.Atoi(parts[1])
	msg, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || msg == 0 {
		return MessageRef{}, false
	}
	return MessageRef{ChatID: chat, ThreadID: thread, MessageID: msg}, true
}

// Button is a single inline keyboard button. Data is delivered back as Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Keyboard rows rendered as an inline keyboard. Edits without a keyboard
	// drop the one already attached.
	Keyboard [][]Button
}

// BotCommand is one entry of the chat client's command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// CommandMenuUpdater is implemented by adapters that can publish the command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
