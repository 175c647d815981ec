package game

import (
	"fmt"
	"strconv"
	"strings"
)

type numberChallenge struct{ spec AnswerSpec }

func newNumberChallenge(spec AnswerSpec) (Challenge, error) {
	if spec.Min >= spec.Max {
		return nil, fmt.Errorf("%w: min %d must be below max %d", ErrBadAnswer, spec.Min, spec.Max)
	}
	if spec.Number < spec.Min || spec.Number > spec.Max {
		return nil, fmt.Errorf("%w: number %d outside [%d,%d]", ErrBadAnswer, spec.Number, spec.Min, spec.Max)
	}
	return numberChallenge{spec: spec}, nil
}

func (c numberChallenge) Kind() string     { return KindNumber }
func (c numberChallenge) Spec() AnswerSpec { return c.spec }
func (c numberChallenge) Reveal() string   { return strconv.FormatInt(c.spec.Number, 10) }

func (c numberChallenge) Check(raw string) Verdict {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < c.spec.Min || n > c.spec.Max {
		return NoMatch
	}
	switch {
	case n == c.spec.Number:
		return Won
	case n < c.spec.Number:
		return Higher
	default:
		return Lower
	}
}

func (c numberChallenge) Prompt() Prompt {
	body := c.spec.Display
	if body == "" {
		body = fmt.Sprintf("I'm thinking of a number between %d and %d.", c.spec.Min, c.spec.Max)
	}
	return Prompt{Kind: KindNumber, Title: "Guess the number", Body: body}
}

// Hint narrows the range to the tenth of it holding the answer.
func (c numberChallenge) Hint() string {
	width := (c.spec.Max - c.spec.Min + 1) / 10
	if width < 10 {
		width = 10
	}
	lo := c.spec.Min + ((c.spec.Number-c.spec.Min)/width)*width
	hi := lo + width - 1
	if hi > c.spec.Max {
		hi = c.spec.Max
	}
	return fmt.Sprintf("It's between %d and %d.", lo, hi)
}

// textChallenge matches the normalized guess against the target and its aliases.
type textChallenge struct {
	kind  string
	title string
	spec  AnswerSpec
}

func newWordChallenge(spec AnswerSpec) (Challenge, error) {
	return newTextChallenge(KindWord, "Unscramble the word", spec)
}

func newFlagChallenge(spec AnswerSpec) (Challenge, error) {
	return newTextChallenge(KindFlag, "Name the country", spec)
}

func newTextChallenge(kind, title string, spec AnswerSpec) (Challenge, error) {
	if Normalize(spec.Target) == "" {
		return nil, fmt.Errorf("%w: empty target", ErrBadAnswer)
	}
	return textChallenge{kind: kind, title: title, spec: spec}, nil
}

func (c textChallenge) Kind() string     { return c.kind }
func (c textChallenge) Spec() AnswerSpec { return c.spec }
func (c textChallenge) Reveal() string   { return c.spec.Target }
func (c textChallenge) Hint() string     { return maskWords(c.spec.Target) }

func (c textChallenge) Check(raw string) Verdict {
	if matchAny(raw, append([]string{c.spec.Target}, c.spec.Aliases...)...) {
		return Won
	}
	return NoMatch
}

func (c textChallenge) Prompt() Prompt {
	return Prompt{Kind: c.kind, Title: c.title, Body: c.spec.Display}
}

// playerChallenge accepts loose multi-token matches on the full name.
type playerChallenge struct{ spec AnswerSpec }

func newPlayerChallenge(spec AnswerSpec) (Challenge, error) {
	if Normalize(spec.Target) == "" {
		return nil, fmt.Errorf("%w: empty target", ErrBadAnswer)
	}
	return playerChallenge{spec: spec}, nil
}

func (c playerChallenge) Kind() string     { return KindPlayer }
func (c playerChallenge) Spec() AnswerSpec { return c.spec }
func (c playerChallenge) Reveal() string   { return c.spec.Target }
func (c playerChallenge) Hint() string     { return maskWords(c.spec.Target) }

func (c playerChallenge) Check(raw string) Verdict {
	if matchLoose(raw, c.spec.Target) {
		return Won
	}
	for _, a := range c.spec.Aliases {
		if matchLoose(raw, a) {
			return Won
		}
	}
	return NoMatch
}

func (c playerChallenge) Prompt() Prompt {
	return Prompt{Kind: KindPlayer, Title: "Who is this player?", Body: c.spec.Display}
}

// songChallenge accepts an exact alias or a loose match on the title.
// Extra holds the artist.
type songChallenge struct{ spec AnswerSpec }

func newSongChallenge(spec AnswerSpec) (Challenge, error) {
	if Normalize(spec.Target) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrBadAnswer)
	}
	return songChallenge{spec: spec}, nil
}

func (c songChallenge) Kind() string     { return KindSong }
func (c songChallenge) Spec() AnswerSpec { return c.spec }
func (c songChallenge) Hint() string     { return maskWords(c.spec.Target) }

func (c songChallenge) Reveal() string {
	if c.spec.Extra == "" {
		return c.spec.Target
	}
	return c.spec.Target + " by " + c.spec.Extra
}

func (c songChallenge) Check(raw string) Verdict {
	if matchAny(raw, c.spec.Aliases...) || matchLoose(raw, c.spec.Target) {
		return Won
	}
	return NoMatch
}

func (c songChallenge) Prompt() Prompt {
	return Prompt{Kind: KindSong, Title: "Name the song", Body: c.spec.Display}
}

// findChallenge is won by the first press on the choice whose Ref equals Token.
type findChallenge struct {
	spec  AnswerSpec
	index int
}

const defaultFindColumns = 4

func newFindChallenge(spec AnswerSpec) (Challenge, error) {
	if spec.Token == "" || len(spec.Choices) == 0 {
		return nil, fmt.Errorf("%w: find needs a token and choices", ErrBadAnswer)
	}
	for i, ch := range spec.Choices {
		if ch.Ref == spec.Token {
			if spec.Columns <= 0 {
				spec.Columns = defaultFindColumns
			}
			return findChallenge{spec: spec, index: i}, nil
		}
	}
	return nil, fmt.Errorf("%w: token not among choices", ErrBadAnswer)
}

func (c findChallenge) Kind() string             { return KindFind }
func (c findChallenge) Spec() AnswerSpec         { return c.spec }
func (c findChallenge) Check(string) Verdict     { return NoMatch }
func (c findChallenge) MatchAux(ref string) bool { return ref == c.spec.Token }
func (c findChallenge) Reveal() string           { return c.spec.Choices[c.index].Label }

func (c findChallenge) Hint() string {
	return fmt.Sprintf("Look in row %d.", c.index/c.spec.Columns+1)
}

func (c findChallenge) Prompt() Prompt {
	return Prompt{
		Kind:    KindFind,
		Title:   "Find it first",
		Body:    c.spec.Display,
		Choices: c.spec.Choices,
		Columns: c.spec.Columns,
	}
}
