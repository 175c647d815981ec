package announce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"gamebot/internal/game"
	kit "gamebot/internal/transport"
	logx "gamebot/pkg/logx"
	"gamebot/pkg/tgui"
)

type Config struct {
	// RatePerSec paces all outbound messages (Telegram allows ~30/s per bot, ~1/s per chat).
	RatePerSec float64
	Burst      int
	// Retries is the number of re-attempts after a failed send.
	Retries uint64
	// AuditChat, when set, receives a line per applied grant.
	AuditChat string
}

// Sink is a Telegram game.OutputSink and game.RewardSink.
type Sink struct {
	tx      kit.Adapter
	lim     *rate.Limiter
	retries uint64
	audit   *kit.ChatTarget
	log     logx.Logger

	newBackoff func() backoff.BackOff
}

func New(tx kit.Adapter, cfg Config, log logx.Logger) (*Sink, error) {
	if tx == nil {
		return nil, errors.New("announce: transport is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{
		tx:      tx,
		lim:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		retries: cfg.Retries,
		log:     log.With(logx.String("comp", "announce")),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	if cfg.AuditChat != "" {
		t, err := kit.ParseChatTarget(cfg.AuditChat)
		if err != nil {
			return nil, fmt.Errorf("announce: audit chat: %w", err)
		}
		s.audit = &t
	}
	return s, nil
}

func (s *Sink) Announce(ctx context.Context, channel string, p game.Prompt) (string, error) {
	to, err := kit.ParseChatTarget(channel)
	if err != nil {
		return "", err
	}
	kb, err := promptKeyboard(p)
	if err != nil {
		return "", err
	}
	ref, err := s.send(ctx, to, renderPrompt(p), kb)
	if err != nil {
		return "", err
	}
	return ref.String(), nil
}

// Reveal closes the prompt message (dropping its keyboard) and posts the outcome.
func (s *Sink) Reveal(ctx context.Context, channel string, o game.Outcome) error {
	to, err := kit.ParseChatTarget(channel)
	if err != nil {
		return err
	}
	for _, aux := range o.AuxRefs {
		ref, ok := kit.ParseMessageRef(aux)
		if !ok {
			continue
		}
		if err := s.edit(ctx, ref, renderClosed(o)); err != nil {
			s.log.Debug("prompt close failed", logx.String("ref", aux), logx.Err(err))
		}
	}
	_, err = s.send(ctx, to, renderReveal(o), nil)
	return err
}

func (s *Sink) Hint(ctx context.Context, channel string, h game.HintNote) error {
	to, err := kit.ParseChatTarget(channel)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, to, renderHint(h), nil)
	return err
}

func (s *Sink) Rewarded(ctx context.Context, channel string, userID int64, grantID string) error {
	to, err := kit.ParseChatTarget(channel)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, to, renderReward(userID, grantID), nil)
	return err
}

// Grant records the grant in the audit chat. Without an audit chat it only logs.
func (s *Sink) Grant(ctx context.Context, userID int64, grantID string) error {
	s.log.Info("grant applied", logx.Int64("user_id", userID), logx.String("grant", grantID))
	if s.audit == nil {
		return nil
	}
	line := tgui.Raw("🎖 ") + tgui.Code(grantID) + tgui.Esc(" → ") + tgui.Mention(fmt.Sprint(userID), userID)
	_, err := s.send(ctx, *s.audit, line, nil)
	return err
}

func (s *Sink) send(ctx context.Context, to kit.ChatTarget, text tgui.H, kb [][]kit.Button) (kit.MessageRef, error) {
	var ref kit.MessageRef
	err := s.retry(ctx, "send", func() error {
		var err error
		ref, err = s.tx.SendText(ctx, to, text.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: kb})
		return err
	})
	return ref, err
}

func (s *Sink) edit(ctx context.Context, ref kit.MessageRef, text tgui.H) error {
	return s.retry(ctx, "edit", func() error {
		return s.tx.EditText(ctx, ref, text.String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	})
}

// retry paces op through the rate limiter and retries failures with backoff.
func (s *Sink) retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackoff(), s.retries), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		if err := s.lim.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return op()
	}, b, func(err error, wait time.Duration) {
		s.log.Warn("telegram "+name+" failed; retrying", logx.Int("attempt", attempt), logx.Duration("wait", wait), logx.Err(err))
	})
}
