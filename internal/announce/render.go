package announce

import (
	"fmt"
	"strings"
	"time"

	"gamebot/internal/game"
	kit "gamebot/internal/transport"
	"gamebot/pkg/tgui"
)

// Callback data for action challenges is "g:pick:<ref>".
const (
	CallbackPrefix = "g"
	CallbackPick   = "pick"
)

// ParsePick extracts the choice ref from callback data produced by a prompt keyboard.
func ParsePick(data string) (string, bool) {
	ref, ok := strings.CutPrefix(data, tgui.Data(CallbackPrefix, CallbackPick, ""))
	if !ok || !strings.HasPrefix(ref, ":") || len(ref) < 2 {
		return "", false
	}
	return ref[1:], true
}

var kindIcon = map[string]string{
	game.KindNumber: "🔢",
	game.KindWord:   "🔤",
	game.KindFlag:   "🏳️",
	game.KindPlayer: "⚽",
	game.KindSong:   "🎵",
	game.KindFind:   "🔎",
}

func icon(kind string) string {
	if s, ok := kindIcon[kind]; ok {
		return s
	}
	return "🎮"
}

func renderPrompt(p game.Prompt) tgui.H {
	lines := []tgui.H{
		tgui.Raw(icon(p.Kind) + " ") + tgui.B(p.Title),
	}
	if p.Body != "" {
		lines = append(lines, tgui.Esc(p.Body))
	}
	lines = append(lines, tgui.I(fmt.Sprintf("⏱ %s · 🏆 %d pts", shortDuration(p.Duration), p.Reward)))
	if p.Mention != "" {
		lines = append(lines, tgui.Esc(p.Mention))
	}
	return tgui.JoinH("\n\n", lines...)
}

func promptKeyboard(p game.Prompt) ([][]kit.Button, error) {
	if len(p.Choices) == 0 {
		return nil, nil
	}
	cols := p.Columns
	if cols <= 0 {
		cols = 4
	}
	var rows [][]kit.Button
	for i, c := range p.Choices {
		data := tgui.Data(CallbackPrefix, CallbackPick, c.Ref)
		if len(data) > tgui.MaxCallbackDataLen {
			return nil, fmt.Errorf("%w: %d bytes", tgui.ErrCallbackDataTooLong, len(data))
		}
		if i%cols == 0 {
			rows = append(rows, nil)
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], kit.Button{Text: c.Label, Data: data})
	}
	return rows, nil
}

func renderReveal(o game.Outcome) tgui.H {
	switch o.Status {
	case game.StatusWon:
		who := winnerName(o.Winner)
		head := tgui.Raw("🎉 ") + tgui.Mention(who, o.Winner.ID) + tgui.Esc(fmt.Sprintf(" got it in %s!", shortDuration(o.Duration)))
		lines := []tgui.H{head, tgui.Raw("Answer: ") + tgui.B(o.Answer)}
		score := fmt.Sprintf("+%d pts", o.Points)
		if o.Total > 0 {
			score += fmt.Sprintf(" (total %d)", o.Total)
		}
		lines = append(lines, tgui.I(score))
		return tgui.JoinH("\n", lines...)
	default:
		return tgui.JoinH("\n", tgui.Raw("⌛ ")+tgui.B("Time's up!"), tgui.Raw("Answer: ")+tgui.B(o.Answer))
	}
}

// renderClosed replaces the prompt once the session is over.
func renderClosed(o game.Outcome) tgui.H {
	return tgui.JoinH("\n", tgui.Raw(icon(o.Kind)+" ")+tgui.S("Session closed"), tgui.Raw("Answer: ")+tgui.B(o.Answer))
}

func renderHint(h game.HintNote) tgui.H {
	switch h.Verdict {
	case game.Higher:
		return tgui.Raw("📈 ") + tgui.Esc(fmt.Sprintf("Higher than %s", strings.TrimSpace(h.Guess)))
	case game.Lower:
		return tgui.Raw("📉 ") + tgui.Esc(fmt.Sprintf("Lower than %s", strings.TrimSpace(h.Guess)))
	default:
		return tgui.Raw("💡 ") + tgui.B("Hint: ") + tgui.Code(h.Text)
	}
}

func renderReward(userID int64, grantID string) tgui.H {
	return tgui.Raw("🏅 ") + tgui.Mention("Player", userID) + tgui.Esc(" unlocked ") + tgui.B(grantID)
}

func winnerName(p game.Player) string {
	if strings.TrimSpace(p.Name) != "" {
		return tgui.TruncRunes(p.Name, 32)
	}
	return fmt.Sprintf("user %d", p.ID)
}

func shortDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}
