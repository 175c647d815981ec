package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamebot/internal/announce"
	"gamebot/internal/game"
	"gamebot/internal/transport/telegram/router"
	"gamebot/pkg/tgui"
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "game",
			Description: "start a round now, or show the active one",
			Usage:       "/game [status]",
			Access:      router.AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      a.cmdGame,
		},
		{
			Name:        "score",
			Aliases:     []string{"points"},
			Description: "show your points",
			Timeout:     5 * time.Second,
			Handle:      a.cmdScore,
		},
	}
}

func (a *App) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{
			Prefix:  announce.CallbackPrefix,
			Action:  announce.CallbackPick,
			Timeout: 10 * time.Second,
			Handle:  a.onPick,
		},
	}
}

func (a *App) cmdGame(ctx context.Context, req *router.Request) error {
	ch := req.Chat.Key()
	if len(req.Args) > 0 && strings.EqualFold(req.Args[0], "status") {
		snap, ok := a.games.Active(ch)
		if !ok {
			return req.Reply(ctx, string(tgui.I("No active round.")))
		}
		left := time.Until(snap.EndsAt).Round(time.Second)
		return req.Reply(ctx, string(tgui.JoinH("\n",
			tgui.B("Active round"),
			tgui.Esc(fmt.Sprintf("kind: %s · reward: %d", snap.Kind, snap.Reward)),
			tgui.Esc("ends in "+left.String()),
			tgui.Code(snap.ID),
		)))
	}

	err := a.games.ForceStart(ctx, ch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, game.ErrUnknownChannel):
		return req.Reply(ctx, string(tgui.I("This chat is not a game channel.")))
	case errors.Is(err, game.ErrSessionActive), errors.Is(err, game.ErrStartInFlight):
		return req.Reply(ctx, string(tgui.I("A round is already running.")))
	case errors.Is(err, game.ErrNoContent):
		return req.Reply(ctx, string(tgui.I("No challenge content is configured.")))
	default:
		_ = req.Reply(ctx, string(tgui.I("Could not start a round; see logs.")))
		return err
	}
}

func (a *App) cmdScore(ctx context.Context, req *router.Request) error {
	total, err := a.store.Score(ctx, a.cfgm.Get().Games.Scope, req.FromID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, string(tgui.JoinH(" ", tgui.Esc(req.FromName+":"), tgui.B(fmt.Sprintf("%d", total)), tgui.Esc("points"))))
}

// onText feeds plain messages into the channel's activity window and guess check.
func (a *App) onText(ctx context.Context, req *router.Request) error {
	_, err := a.games.OnEvent(ctx, game.Event{
		Channel: req.Chat.Key(),
		Player:  game.Player{ID: req.FromID, Name: req.FromName},
		Text:    req.Text,
		At:      req.At,
	})
	if errors.Is(err, game.ErrUnknownChannel) {
		return nil
	}
	return err
}

func (a *App) onPick(ctx context.Context, req *router.Request) error {
	ref, ok := announce.ParsePick(req.Update.Callback.Data)
	if !ok {
		return req.Adapter.AnswerCallback(ctx, req.CallbackID, "")
	}
	won, err := a.games.OnAuxInteraction(ctx, req.Chat.Key(), ref, game.Player{ID: req.FromID, Name: req.FromName})
	if errors.Is(err, game.ErrUnknownChannel) {
		err = nil
	}
	answer := "Not this one."
	if won {
		answer = "Correct!"
	}
	if aerr := req.Adapter.AnswerCallback(ctx, req.CallbackID, answer); aerr != nil && err == nil {
		err = aerr
	}
	return err
}
