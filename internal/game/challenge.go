package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownKind = errors.New("unknown challenge kind")
	ErrBadAnswer   = errors.New("invalid answer spec")
)

// Challenge kinds.
const (
	KindNumber = "number"
	KindWord   = "word"
	KindFlag   = "flag"
	KindPlayer = "player"
	KindSong   = "song"
	KindFind   = "find"
)

type Verdict int

const (
	NoMatch Verdict = iota
	Won
	// Higher and Lower are directional misses: the answer is above/below the guess.
	Higher
	Lower
)

func (v Verdict) String() string {
	switch v {
	case Won:
		return "won"
	case Higher:
		return "higher"
	case Lower:
		return "lower"
	default:
		return "no_match"
	}
}

// Choice is one selectable option of an action-resolved challenge.
type Choice struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// AnswerSpec is the serialisable content of a challenge. Which fields are
// meaningful depends on the kind.
type AnswerSpec struct {
	Min     int64    `json:"min,omitempty"`
	Max     int64    `json:"max,omitempty"`
	Number  int64    `json:"number,omitempty"`
	Target  string   `json:"target,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	Display string   `json:"display,omitempty"`
	Extra   string   `json:"extra,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Token   string   `json:"token,omitempty"`
	Columns int      `json:"columns,omitempty"`
}

// Challenge is one kind-specific puzzle. Implementations are immutable.
type Challenge interface {
	Kind() string
	Check(raw string) Verdict
	Prompt() Prompt
	Reveal() string
	// Hint returns a partial reveal, or "" when the kind has none.
	Hint() string
	Spec() AnswerSpec
}

// AuxMatcher is implemented by challenges resolved by an action (a button
// press) rather than by text.
type AuxMatcher interface {
	MatchAux(ref string) bool
}

type decoder func(AnswerSpec) (Challenge, error)

var registry = map[string]decoder{
	KindNumber: newNumberChallenge,
	KindWord:   newWordChallenge,
	KindFlag:   newFlagChallenge,
	KindPlayer: newPlayerChallenge,
	KindSong:   newSongChallenge,
	KindFind:   newFindChallenge,
}

// NewChallenge builds and validates a challenge of the given kind.
func NewChallenge(kind string, spec AnswerSpec) (Challenge, error) {
	dec, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	c, err := dec(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return c, nil
}

// DecodeChallenge rebuilds a challenge from its persisted answer spec.
func DecodeChallenge(kind string, raw json.RawMessage) (Challenge, error) {
	var spec AnswerSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAnswer, err)
	}
	return NewChallenge(kind, spec)
}

// Kinds lists all registered kinds in lexical order.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func KnownKind(kind string) bool {
	_, ok := registry[kind]
	return ok
}
