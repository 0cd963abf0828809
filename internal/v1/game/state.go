// Package game is the pure rules core for Ludo Stacked. Process never
// mutates its input state; it returns a new state plus the events that
// happened, and callers own persistence and fanout. The dice value comes
// in with the Roll action, so the engine has no hidden randomness.
package game

import (
	"encoding/json"

	"k8s.io/utils/set"
)

// Phase is the engine lifecycle.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
)

// Zone locates a token or stack on its journey around the board.
type Zone string

const (
	ZoneHell        Zone = "hell"
	ZoneRoad        Zone = "road"
	ZoneHomestretch Zone = "homestretch"
	ZoneHeaven      Zone = "heaven"
)

// CurrentEvent says which action kind the engine expects next.
type CurrentEvent string

const (
	AwaitPlayerRoll    CurrentEvent = "player_roll"
	AwaitPlayerChoice  CurrentEvent = "player_choice"
	AwaitCaptureChoice CurrentEvent = "capture_choice"
)

// SeatColors assigns a color per seat index.
var SeatColors = []string{"red", "blue", "green", "yellow"}

// TokensPerPlayer is fixed by the rules.
const TokensPerPlayer = 4

// Board describes the generated track. Progress is measured per player from
// their own start: the road spans [0, SquaresToHomestretch), the homestretch
// [SquaresToHomestretch, SquaresToWin), and SquaresToWin is heaven.
type Board struct {
	GridLength           int   `json:"grid_length"`
	SquaresToWin         int   `json:"squares_to_win"`
	SquaresToHomestretch int   `json:"squares_to_homestretch"`
	StartingPositions    []int `json:"starting_positions"`
	SafeSpaces           []int `json:"safe_spaces"`
	GetOutRolls          []int `json:"get_out_rolls"`
}

// IsSafe reports whether an absolute road position blocks captures.
func (b Board) IsSafe(absPos int) bool {
	return set.New(b.SafeSpaces...).Has(absPos)
}

// IsGetOutRoll reports whether a dice value frees a token from hell.
func (b Board) IsGetOutRoll(roll int) bool {
	return set.New(b.GetOutRolls...).Has(roll)
}

// Player is one seat in the game. Turn order follows slice position: the
// player at index i has turn order i+1.
type Player struct {
	ID               string `json:"id"`
	Color            string `json:"color"`
	TurnOrder        int    `json:"turn_order"`
	AbsStartingIndex int    `json:"abs_starting_index"`
}

// Token is a single piece.
type Token struct {
	ID       string `json:"id"`
	PlayerID string `json:"player_id"`
	Zone     Zone   `json:"zone"`
	Progress int    `json:"progress"`
	StackID  string `json:"stack_id,omitempty"`
}

// Stack is a pile of same-player tokens moving as one piece. The stack's
// Progress is authoritative; member tokens mirror it.
type Stack struct {
	ID       string   `json:"id"`
	PlayerID string   `json:"player_id"`
	TokenIDs []string `json:"token_ids"`
	Zone     Zone     `json:"zone"`
	Progress int      `json:"progress"`
}

// Height is the number of tokens in the stack.
func (s Stack) Height() int { return len(s.TokenIDs) }

// Capture extra-roll modes.
const (
	CaptureRollsPerToken = "per_token"
	CaptureRollsSingle   = "single"
	CaptureRollsNone     = "none"
)

// Ruleset carries the tunable rules. Board fields override the generated
// defaults, so a config can reshape the whole track.
type Ruleset struct {
	GridLength           int    `json:"grid_length,omitempty"`
	SquaresToWin         int    `json:"squares_to_win,omitempty"`
	SquaresToHomestretch int    `json:"squares_to_homestretch,omitempty"`
	StartingPositions    []int  `json:"starting_positions,omitempty"`
	SafeSpaces           []int  `json:"safe_spaces,omitempty"`
	GetOutRolls          []int  `json:"get_out_rolls,omitempty"`
	CaptureExtraRolls    string `json:"capture_extra_rolls,omitempty"`
}

// GridLengthOrDefault returns the configured grid length, defaulting to 6.
func (r Ruleset) GridLengthOrDefault() int {
	if r.GridLength > 0 {
		return r.GridLength
	}
	return 6
}

// CaptureExtraRollMode returns how captures grant extra rolls: one per
// captured token (default), one per capture, or none.
func (r Ruleset) CaptureExtraRollMode() string {
	switch r.CaptureExtraRolls {
	case CaptureRollsSingle, CaptureRollsNone:
		return r.CaptureExtraRolls
	default:
		return CaptureRollsPerToken
	}
}

// BoardSetup generates the track for n players: 9g+1 squares to win, 8g+1
// to the homestretch entrance, starts spaced 2g+1 apart, and safe spaces at
// each start plus 2g-2 after it. Ruleset fields override any of these.
func (r Ruleset) BoardSetup(n int) Board {
	g := r.GridLengthOrDefault()
	board := Board{
		GridLength:           g,
		SquaresToWin:         9*g + 1,
		SquaresToHomestretch: 8*g + 1,
	}
	for i := 0; i < n; i++ {
		start := i * (2*g + 1)
		board.StartingPositions = append(board.StartingPositions, start)
		board.SafeSpaces = append(board.SafeSpaces, start, start+(2*g-2))
	}
	board.GetOutRolls = []int{6}

	if r.SquaresToWin > 0 {
		board.SquaresToWin = r.SquaresToWin
	}
	if r.SquaresToHomestretch > 0 {
		board.SquaresToHomestretch = r.SquaresToHomestretch
	}
	if len(r.StartingPositions) >= n {
		board.StartingPositions = append([]int(nil), r.StartingPositions[:n]...)
	}
	if r.SafeSpaces != nil {
		board.SafeSpaces = append([]int(nil), r.SafeSpaces...)
	}
	if len(r.GetOutRolls) > 0 {
		board.GetOutRolls = append([]int(nil), r.GetOutRolls...)
	}
	return board
}

// Turn is the live turn: whose it is, the dice queue, and what they may do.
type Turn struct {
	PlayerID        string   `json:"player_id"`
	InitialRoll     bool     `json:"initial_roll"`
	RollsToAllocate []int    `json:"rolls_to_allocate"`
	LegalMoves      []string `json:"legal_moves,omitempty"`
	TurnOrder       int      `json:"current_turn_order"`
	ExtraRolls      int      `json:"extra_rolls"`
}

// GameState is the full serializable engine state.
type GameState struct {
	RoomID  string            `json:"room_id"`
	Phase   Phase             `json:"phase"`
	Board   Board             `json:"board"`
	Players []Player          `json:"players"`
	Tokens  map[string]*Token `json:"tokens"`
	Stacks  map[string]*Stack `json:"stacks"`
	Ruleset Ruleset           `json:"ruleset"`

	// CurrentEvent is the action kind expected next; Turn is nil until the
	// game starts and after it finishes.
	CurrentEvent CurrentEvent `json:"current_event"`
	Turn         *Turn        `json:"current_turn,omitempty"`

	// StacksFormed counts stacks ever formed per player, for stack ids.
	StacksFormed map[string]int `json:"stacks_formed,omitempty"`
	// EventSeq is the next event sequence number to assign.
	EventSeq int64  `json:"event_seq"`
	Winner   string `json:"winner,omitempty"`
}

// PlayerByID returns the player and true when the id is in the game.
func (s *GameState) PlayerByID(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// PlayerByOrder returns the player with the given 1-based turn order.
func (s *GameState) PlayerByOrder(order int) Player {
	return s.Players[order-1]
}

// AbsolutePosition maps a road piece's progress to a shared board position.
// Only meaningful for the road: homestretch lanes are private per player.
func (s *GameState) AbsolutePosition(playerID string, progress int) int {
	p, _ := s.PlayerByID(playerID)
	return (p.AbsStartingIndex + progress) % s.Board.SquaresToHomestretch
}

// Clone deep-copies the state so Process can stay pure.
func (s *GameState) Clone() *GameState {
	cp := *s
	cp.Players = append([]Player(nil), s.Players...)
	cp.Board.StartingPositions = append([]int(nil), s.Board.StartingPositions...)
	cp.Board.SafeSpaces = append([]int(nil), s.Board.SafeSpaces...)
	cp.Board.GetOutRolls = append([]int(nil), s.Board.GetOutRolls...)
	cp.Ruleset.StartingPositions = append([]int(nil), s.Ruleset.StartingPositions...)
	cp.Ruleset.SafeSpaces = append([]int(nil), s.Ruleset.SafeSpaces...)
	cp.Ruleset.GetOutRolls = append([]int(nil), s.Ruleset.GetOutRolls...)

	if s.Turn != nil {
		turn := *s.Turn
		turn.RollsToAllocate = append([]int(nil), s.Turn.RollsToAllocate...)
		turn.LegalMoves = append([]string(nil), s.Turn.LegalMoves...)
		cp.Turn = &turn
	}

	cp.Tokens = make(map[string]*Token, len(s.Tokens))
	for id, t := range s.Tokens {
		tc := *t
		cp.Tokens[id] = &tc
	}
	cp.Stacks = make(map[string]*Stack, len(s.Stacks))
	for id, st := range s.Stacks {
		sc := *st
		sc.TokenIDs = append([]string(nil), st.TokenIDs...)
		cp.Stacks[id] = &sc
	}
	if s.StacksFormed != nil {
		cp.StacksFormed = make(map[string]int, len(s.StacksFormed))
		for k, v := range s.StacksFormed {
			cp.StacksFormed[k] = v
		}
	}
	return &cp
}

// Marshal serializes the state for cache persistence.
func (s *GameState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal restores a state serialized with Marshal.
func Unmarshal(data []byte) (*GameState, error) {
	var s GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Tokens == nil {
		s.Tokens = map[string]*Token{}
	}
	if s.Stacks == nil {
		s.Stacks = map[string]*Stack{}
	}
	return &s, nil
}
