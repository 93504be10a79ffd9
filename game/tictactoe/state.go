package tictactoe

import (
	"fmt"
	"hash/fnv"
	"strings"

	"treesearch/game"
)

const (
	X game.PlayerID = 1
	O game.PlayerID = 2

	Size  = 3
	Cells = Size * Size

	WIN  = 1.0
	DRAW = 0.0
	LOSS = -WIN
)

// Move marks a cell, indexed row-major from 0 to Cells-1.
type Move int

func (m Move) Row() int { return int(m) / Size }
func (m Move) Col() int { return int(m) % Size }

func (m Move) String() string {
	return fmt.Sprintf("%d,%d", m.Row(), m.Col())
}

// ParseMove reads a "row,col" pair.
func ParseMove(s string) (Move, error) {
	var row, col int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d,%d", &row, &col); err != nil {
		return 0, fmt.Errorf("parse move %q: %w", s, err)
	}
	if row < 0 || row >= Size || col < 0 || col >= Size {
		return 0, fmt.Errorf("move %q out of the board: %w", s, game.ErrInvalidState)
	}
	return Move(row*Size + col), nil
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// GameState represents a board position. Values are immutable once handed out.
type GameState struct {
	Board         [Cells]game.PlayerID // 0 marks an empty cell
	CurrentPlayer game.PlayerID
	Won           game.PlayerID // 0 while undecided or drawn
	Marked        int
}

// NewGameState returns the empty board with X to move.
func NewGameState() *GameState {
	return &GameState{CurrentPlayer: X}
}

func (gs GameState) Copy() *GameState {
	return &gs
}

func (gs GameState) Player() game.PlayerID {
	return gs.CurrentPlayer
}

func (gs GameState) LegalActions() []game.Action {
	if gs.Terminal() {
		return nil
	}
	actions := make([]game.Action, 0, Cells-gs.Marked)
	for cell, owner := range gs.Board {
		if owner == 0 {
			actions = append(actions, Move(cell))
		}
	}
	return actions
}

func (gs GameState) Play(action game.Action) (game.State, error) {
	move, ok := action.(Move)
	if !ok {
		return nil, fmt.Errorf("unexpected action type %T: %w", action, game.ErrInvalidState)
	}
	if gs.Terminal() {
		return nil, fmt.Errorf("move %v after the game is over: %w", move, game.ErrInvalidState)
	}
	if move < 0 || int(move) >= Cells {
		return nil, fmt.Errorf("move %d out of the board: %w", int(move), game.ErrInvalidState)
	}
	if gs.Board[move] != 0 {
		return nil, fmt.Errorf("cell %v already marked: %w", move, game.ErrInvalidState)
	}

	newGs := gs.Copy()
	newGs.Board[move] = gs.CurrentPlayer
	newGs.Marked++
	newGs.Won = newGs.CheckWinner()
	newGs.CurrentPlayer = gs.NextPlayer()
	return newGs, nil
}

func (gs GameState) Terminal() bool {
	return gs.Won != 0 || gs.Marked == Cells
}

func (gs GameState) Reward(player game.PlayerID) float64 {
	switch gs.Won {
	case 0:
		return DRAW
	case player:
		return WIN
	default:
		return LOSS
	}
}

func (gs GameState) NextPlayer() game.PlayerID {
	if gs.CurrentPlayer == X {
		return O
	}
	return X
}

// Winner returns the player owning a full line, or 0.
func (gs GameState) Winner() game.PlayerID {
	return gs.Won
}

func (gs GameState) CheckWinner() game.PlayerID {
	for _, line := range lines {
		owner := gs.Board[line[0]]
		if owner != 0 && owner == gs.Board[line[1]] && owner == gs.Board[line[2]] {
			return owner
		}
	}
	return 0
}

// Hash covers the player to move followed by the owner of every cell, one byte each.
func (gs GameState) Hash() game.StateHash {
	var buf [Cells + 1]byte
	buf[0] = byte(gs.CurrentPlayer)
	for cell, owner := range gs.Board {
		buf[cell+1] = byte(owner)
	}

	hasher := fnv.New64a()
	hasher.Write(buf[:]) // never fails for hash.Hash
	return game.StateHash(hasher.Sum64())
}

func (gs GameState) String() string {
	var b strings.Builder
	for cell, owner := range gs.Board {
		switch owner {
		case X:
			b.WriteByte('X')
		case O:
			b.WriteByte('O')
		default:
			b.WriteByte('_')
		}
		if cell%Size == Size-1 {
			if cell != Cells-1 {
				b.WriteByte('\n')
			}
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// FromString builds a position from rows of X, O and _ separated by whitespace or newlines.
// The player to move is derived from the mark counts.
func FromString(s string) (*GameState, error) {
	gs := NewGameState()
	cell := 0
	var xs, os int
	for _, r := range s {
		switch r {
		case ' ', '\n', '\t', '\r', '|':
			continue
		case 'X', 'x':
			if cell < Cells {
				gs.Board[cell] = X
			}
			xs++
		case 'O', 'o':
			if cell < Cells {
				gs.Board[cell] = O
			}
			os++
		case '_', '.', '-':
		default:
			return nil, fmt.Errorf("unexpected character %q: %w", r, game.ErrInvalidState)
		}
		cell++
	}
	if cell != Cells {
		return nil, fmt.Errorf("expected %d cells, got %d: %w", Cells, cell, game.ErrInvalidState)
	}
	if xs != os && xs != os+1 {
		return nil, fmt.Errorf("unreachable position with %d X and %d O: %w", xs, os, game.ErrInvalidState)
	}
	if xs > os {
		gs.CurrentPlayer = O
	}
	gs.Marked = xs + os
	gs.Won = gs.CheckWinner()
	return gs, nil
}
