package content

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gamebot/internal/game"
)

var ErrNoContent = errors.New("no content for kind")

type NumberRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

type Flag struct {
	Emoji   string   `json:"emoji"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

type PlayerEntry struct {
	Name    string   `json:"name"`
	Clue    string   `json:"clue"`
	Aliases []string `json:"aliases,omitempty"`
}

type Song struct {
	Title   string   `json:"title"`
	Artist  string   `json:"artist"`
	Lyric   string   `json:"lyric"`
	Aliases []string `json:"aliases,omitempty"`
}

type FindGrid struct {
	Targets []string `json:"targets"`
	Decoys  []string `json:"decoys"`
	Size    int      `json:"size"`
	Columns int      `json:"columns"`
}

// Catalog is the configured content per kind. Empty sections mean the kind
// has no content.
type Catalog struct {
	Number  NumberRange   `json:"number"`
	Words   []string      `json:"words"`
	Flags   []Flag        `json:"flags"`
	Players []PlayerEntry `json:"players"`
	Songs   []Song        `json:"songs"`
	Find    FindGrid      `json:"find"`
}

// Kinds lists the kinds that have content.
func (c Catalog) Kinds() []string {
	var out []string
	if c.Number.Max > c.Number.Min {
		out = append(out, game.KindNumber)
	}
	if len(c.Words) > 0 {
		out = append(out, game.KindWord)
	}
	if len(c.Flags) > 0 {
		out = append(out, game.KindFlag)
	}
	if len(c.Players) > 0 {
		out = append(out, game.KindPlayer)
	}
	if len(c.Songs) > 0 {
		out = append(out, game.KindSong)
	}
	if len(c.Find.Targets) > 0 && len(c.Find.Decoys) > 0 {
		out = append(out, game.KindFind)
	}
	return out
}

// Static implements game.ContentProvider over a Catalog.
type Static struct {
	mu  sync.Mutex
	cat Catalog
	rnd *rand.Rand
}

func NewStatic(cat Catalog, seed uint64) *Static {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Static{cat: cat, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Update swaps the catalog; sessions already running are unaffected.
func (s *Static) Update(cat Catalog) {
	s.mu.Lock()
	s.cat = cat
	s.mu.Unlock()
}

func (s *Static) Fetch(ctx context.Context, kind string) (game.AnswerSpec, error) {
	if err := ctx.Err(); err != nil {
		return game.AnswerSpec{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case game.KindNumber:
		r := s.cat.Number
		if r.Max <= r.Min {
			break
		}
		return game.AnswerSpec{Min: r.Min, Max: r.Max, Number: r.Min + s.rnd.Int64N(r.Max-r.Min+1)}, nil
	case game.KindWord:
		if len(s.cat.Words) == 0 {
			break
		}
		w := strings.TrimSpace(s.cat.Words[s.rnd.IntN(len(s.cat.Words))])
		return game.AnswerSpec{Target: w, Display: s.scramble(w)}, nil
	case game.KindFlag:
		if len(s.cat.Flags) == 0 {
			break
		}
		f := s.cat.Flags[s.rnd.IntN(len(s.cat.Flags))]
		return game.AnswerSpec{Target: f.Name, Aliases: f.Aliases, Display: f.Emoji}, nil
	case game.KindPlayer:
		if len(s.cat.Players) == 0 {
			break
		}
		p := s.cat.Players[s.rnd.IntN(len(s.cat.Players))]
		return game.AnswerSpec{Target: p.Name, Aliases: p.Aliases, Display: p.Clue}, nil
	case game.KindSong:
		if len(s.cat.Songs) == 0 {
			break
		}
		so := s.cat.Songs[s.rnd.IntN(len(s.cat.Songs))]
		return game.AnswerSpec{Target: so.Title, Extra: so.Artist, Aliases: so.Aliases, Display: so.Lyric}, nil
	case game.KindFind:
		if len(s.cat.Find.Targets) == 0 || len(s.cat.Find.Decoys) == 0 {
			break
		}
		return s.grid(), nil
	default:
		return game.AnswerSpec{}, fmt.Errorf("%w: %q", game.ErrUnknownKind, kind)
	}
	return game.AnswerSpec{}, fmt.Errorf("%w: %s", ErrNoContent, kind)
}

// scramble shuffles the letters of w, retrying a few times to avoid returning w itself.
func (s *Static) scramble(w string) string {
	r := []rune(strings.ToUpper(w))
	if len(r) < 2 {
		return string(r)
	}
	orig := string(r)
	for i := 0; i < 8; i++ {
		s.rnd.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
		if string(r) != orig {
			break
		}
	}
	return strings.Join(strings.Split(string(r), ""), " ")
}

const (
	defaultGridSize    = 12
	defaultGridColumns = 4
)

func (s *Static) grid() game.AnswerSpec {
	g := s.cat.Find
	size := g.Size
	if size < 2 {
		size = defaultGridSize
	}
	cols := g.Columns
	if cols <= 0 {
		cols = defaultGridColumns
	}
	target := g.Targets[s.rnd.IntN(len(g.Targets))]
	choices := make([]game.Choice, size)
	for i := range choices {
		label := g.Decoys[s.rnd.IntN(len(g.Decoys))]
		for tries := 0; label == target && tries < 8; tries++ {
			label = g.Decoys[s.rnd.IntN(len(g.Decoys))]
		}
		choices[i] = game.Choice{Label: label, Ref: shortToken()}
	}
	win := s.rnd.IntN(size)
	choices[win].Label = target
	return game.AnswerSpec{
		Display: "Find the " + target,
		Choices: choices,
		Token:   choices[win].Ref,
		Columns: cols,
	}
}

// shortToken keeps callback payloads well under Telegram's 64-byte limit.
func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
