// Package board holds the Goose board layout and the pure rules that turn a
// start tile and a dice total into a final tile.
package board

import "sort"

const (
	Start = 0
	Goal  = 64
	// EndgameFrom is the tile from which players roll a single die.
	EndgameFrom = 60
)

type TileKind int

const (
	Plain TileKind = iota
	Goose
	Bridge
	LuckyBox
	Inn
	Well
	Maze
	Doubling
	Prison
	Skull
	Finish
)

func (k TileKind) String() string {
	switch k {
	case Goose:
		return "goose"
	case Bridge:
		return "bridge"
	case LuckyBox:
		return "lucky box"
	case Inn:
		return "inn"
	case Well:
		return "well"
	case Maze:
		return "maze"
	case Doubling:
		return "dice"
	case Prison:
		return "prison"
	case Skull:
		return "skull"
	case Finish:
		return "goal"
	}
	return "plain"
}

// Board is an immutable tile layout.
type Board struct {
	Name     string
	geese    []int
	bridges  map[int]int
	lucky    map[int]bool
	mazes    map[int]int
	skulls   map[int]int
	doubling map[int]bool
	skips    map[int]skipTile
}

type skipTile struct {
	kind  TileKind
	turns int
}

// Classic is the full board.
func Classic() *Board {
	return &Board{
		Name:     "classic",
		geese:    []int{5, 9, 14, 18, 23, 27, 32, 36, 41, 45, 50, 54, 59},
		bridges:  map[int]int{6: 12, 12: 6},
		lucky:    map[int]bool{7: true, 15: true, 37: true, 48: true},
		mazes:    map[int]int{42: 30},
		skulls:   map[int]int{58: Start},
		doubling: map[int]bool{26: true, 53: true},
		skips: map[int]skipTile{
			19: {kind: Inn, turns: 1},
			31: {kind: Well, turns: 2},
			56: {kind: Prison, turns: 3},
		},
	}
}

// Family is the classic board without the skull and the prison.
func Family() *Board {
	b := Classic()
	b.Name = "family"
	b.skulls = map[int]int{}
	b.skips = map[int]skipTile{
		19: {kind: Inn, turns: 1},
		31: {kind: Well, turns: 2},
	}
	return b
}

var variants = map[string]func() *Board{
	"classic": Classic,
	"family":  Family,
}

// Variant returns the named layout.
func Variant(name string) (*Board, bool) {
	build, ok := variants[name]
	if !ok {
		return nil, false
	}
	return build(), true
}

// Variants lists the known layout names.
func Variants() []string {
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bounce reflects an overshoot off the goal: 64 - (raw - 64).
func Bounce(raw int) int {
	if raw > Goal {
		return Goal - (raw - Goal)
	}
	return raw
}

// Kind reports what a tile does.
func (b *Board) Kind(tile int) TileKind {
	switch {
	case tile == Goal:
		return Finish
	case b.lucky[tile]:
		return LuckyBox
	case b.isGoose(tile):
		return Goose
	}
	if _, ok := b.bridges[tile]; ok {
		return Bridge
	}
	if _, ok := b.mazes[tile]; ok {
		return Maze
	}
	if _, ok := b.skulls[tile]; ok {
		return Skull
	}
	if b.doubling[tile] {
		return Doubling
	}
	if s, ok := b.skips[tile]; ok {
		return s.kind
	}
	return Plain
}

func (b *Board) isGoose(tile int) bool {
	i := sort.SearchInts(b.geese, tile)
	return i < len(b.geese) && b.geese[i] == tile
}

// nextGoose returns the goose after tile, or tile itself for the last one.
func (b *Board) nextGoose(tile int) int {
	i := sort.SearchInts(b.geese, tile)
	if i+1 < len(b.geese) {
		return b.geese[i+1]
	}
	return tile
}

// Effect is one tile rule applied while resolving a move.
type Effect struct {
	Kind TileKind
	From int
	To   int
}

// Outcome is the result of resolving one roll.
type Outcome struct {
	Start     int
	Total     int
	Raw       int
	Final     int
	Won       bool
	ExtraTurn bool
	LuckyBox  bool
	// SkipTurns is the number of turns the player must sit out, 0 for none.
	SkipTurns int
	Effects   []Effect
}

// Resolve applies a roll total to a start tile. Tile rules run once each, in
// precedence order, against the position produced by the previous rule:
// goal, lucky box, goose, bridge, maze, skull, doubling, skip tiles.
func (b *Board) Resolve(start, total int) Outcome {
	raw := start + total
	out := Outcome{Start: start, Total: total, Raw: raw, Final: Bounce(raw)}

	if out.Final == Goal {
		out.Won = true
		out.Effects = append(out.Effects, Effect{Kind: Finish, From: Goal, To: Goal})
		return out
	}

	if b.lucky[out.Final] {
		out.LuckyBox = true
		out.Effects = append(out.Effects, Effect{Kind: LuckyBox, From: out.Final, To: out.Final})
	}

	if b.isGoose(out.Final) {
		to := b.nextGoose(out.Final)
		out.Effects = append(out.Effects, Effect{Kind: Goose, From: out.Final, To: to})
		out.Final = to
		out.ExtraTurn = true
	}

	if to, ok := b.bridges[out.Final]; ok {
		out.Effects = append(out.Effects, Effect{Kind: Bridge, From: out.Final, To: to})
		out.Final = to
		out.ExtraTurn = true
	}

	if to, ok := b.mazes[out.Final]; ok {
		out.Effects = append(out.Effects, Effect{Kind: Maze, From: out.Final, To: to})
		out.Final = to
	}

	if to, ok := b.skulls[out.Final]; ok {
		out.Effects = append(out.Effects, Effect{Kind: Skull, From: out.Final, To: to})
		out.Final = to
	}

	if b.doubling[out.Final] {
		to := Bounce(out.Final + out.Final)
		out.Effects = append(out.Effects, Effect{Kind: Doubling, From: out.Final, To: to})
		out.Final = to
	}

	if s, ok := b.skips[out.Final]; ok {
		out.SkipTurns = s.turns
		out.Effects = append(out.Effects, Effect{Kind: s.kind, From: out.Final, To: out.Final})
	}

	return out
}
