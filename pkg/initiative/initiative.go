// Package initiative decides combat turn order.
package initiative

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jwebster45206/pbem-engine/pkg/actor"
	"github.com/jwebster45206/pbem-engine/pkg/game"
)

const (
	StrategyByID      = "by_id"
	StrategyDexterity = "dexterity"
)

// Strategy orders characters for combat. Implementations must be
// deterministic for the same input.
type Strategy interface {
	Name() string
	Order(characters []game.Character) []int64
}

// New returns the strategy registered under name
func New(name string, log *slog.Logger) (Strategy, error) {
	switch name {
	case "", StrategyByID:
		return ByID{}, nil
	case StrategyDexterity:
		return ByAttribute{Attribute: "dexterity", log: log}, nil
	default:
		return nil, fmt.Errorf("unknown initiative strategy %q", name)
	}
}

// ByID is the baseline: ascending character id
type ByID struct{}

func (ByID) Name() string { return StrategyByID }

func (ByID) Order(characters []game.Character) []int64 {
	ids := make([]int64, 0, len(characters))
	for _, c := range characters {
		ids = append(ids, c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ByAttribute orders by a sheet attribute, highest first, ties by id.
// Characters whose sheet cannot be read rank as if the attribute were 0.
type ByAttribute struct {
	Attribute string
	log       *slog.Logger
}

func (b ByAttribute) Name() string { return b.Attribute }

func (b ByAttribute) Order(characters []game.Character) []int64 {
	type ranked struct {
		id    int64
		score int
	}
	rows := make([]ranked, 0, len(characters))
	for _, ch := range characters {
		score := 0
		c, err := actor.NewCombatant(ch)
		if err != nil {
			if b.log != nil {
				b.log.Warn("Failed to build combatant for initiative", "character_id", ch.ID, "error", err)
			}
		} else if v, ok := c.Attribute(b.Attribute); ok {
			score = v
		}
		rows = append(rows, ranked{id: ch.ID, score: score})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].id < rows[j].id
	})
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids
}

// ActiveIndex is the slot whose turn it is. ok is false when no order is
// enforced.
func ActiveIndex(turnNumber, orderLen int) (int, bool) {
	if orderLen <= 0 {
		return 0, false
	}
	idx := turnNumber % orderLen
	if idx < 0 {
		idx += orderLen
	}
	return idx, true
}

// Expected returns the character expected to act on the given turn
func Expected(order []int64, turnNumber int) (int64, bool) {
	idx, ok := ActiveIndex(turnNumber, len(order))
	if !ok {
		return 0, false
	}
	return order[idx], true
}
