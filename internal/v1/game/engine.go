package game

import (
	"fmt"
)

// Engine processes actions against game states. It holds no state of its
// own: every input comes in through the action, dice value included, so a
// persisted snapshot replays to identical output.
type Engine struct{}

// NewEngine creates the engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewGame builds the pre-start state for the given seated players in seat
// order, which doubles as turn order. The game waits for a StartGame action.
func (e *Engine) NewGame(roomID string, playerIDs []string, ruleset Ruleset) *GameState {
	board := ruleset.BoardSetup(len(playerIDs))

	players := make([]Player, len(playerIDs))
	tokens := map[string]*Token{}
	for i, id := range playerIDs {
		players[i] = Player{
			ID:               id,
			Color:            SeatColors[i%len(SeatColors)],
			TurnOrder:        i + 1,
			AbsStartingIndex: board.StartingPositions[i],
		}
		for t := 1; t <= TokensPerPlayer; t++ {
			tokenID := fmt.Sprintf("%s_token_%d", id, t)
			tokens[tokenID] = &Token{
				ID:       tokenID,
				PlayerID: id,
				Zone:     ZoneHell,
			}
		}
	}

	return &GameState{
		RoomID:       roomID,
		Phase:        PhaseNotStarted,
		Board:        board,
		Players:      players,
		Tokens:       tokens,
		Stacks:       map[string]*Stack{},
		Ruleset:      ruleset,
		CurrentEvent: AwaitPlayerRoll,
	}
}

// Process validates and applies one action. The input state is never
// mutated: successes return a fresh state, failures return the input.
// Validation rejects on the first failure: phase, active turn, turn
// ownership, expected action kind, then move legality.
func (e *Engine) Process(state *GameState, action Action, actorID string) Result {
	if action.Type == ActionStartGame {
		if state.Phase != PhaseNotStarted {
			return failure(state, ErrCodeGameAlreadyStarted, "game has already started")
		}
		return processStartGame(state)
	}

	switch state.Phase {
	case PhaseNotStarted:
		return failure(state, ErrCodeGameNotStarted, "game has not started yet")
	case PhaseFinished:
		return failure(state, ErrCodeGameFinished, "game has already finished")
	}
	if state.Turn == nil {
		return failure(state, ErrCodeNoActiveTurn, "no active turn")
	}
	if state.Turn.PlayerID != actorID {
		return failure(state, ErrCodeNotYourTurn, "it is not your turn")
	}

	switch action.Type {
	case ActionRoll:
		if state.CurrentEvent != AwaitPlayerRoll {
			return failure(state, ErrCodeInvalidAction, "not expecting a roll")
		}
		if action.Value < 1 || action.Value > 6 {
			return failure(state, ErrCodeValidation, fmt.Sprintf("dice value %d out of range", action.Value))
		}
		return processRoll(state, action.Value, actorID)
	case ActionMove:
		if state.CurrentEvent != AwaitPlayerChoice {
			return failure(state, ErrCodeInvalidAction, "not expecting a move")
		}
		if !containsString(state.Turn.LegalMoves, action.TokenOrStackID) {
			return failure(state, ErrCodeIllegalMove, fmt.Sprintf("%q is not a legal move", action.TokenOrStackID))
		}
		return processMove(state, action.TokenOrStackID, actorID)
	case ActionCaptureChoice:
		if state.CurrentEvent != AwaitCaptureChoice {
			return failure(state, ErrCodeInvalidAction, "not in capture resolution")
		}
		return processCaptureChoice(state)
	default:
		return failure(state, ErrCodeInvalidAction, fmt.Sprintf("unknown action type %q", action.Type))
	}
}

// processStartGame moves the game to in_progress and opens the first turn.
func processStartGame(state *GameState) Result {
	next := state.Clone()
	em := newEmitter(next)

	first := next.PlayerByOrder(1)
	order := make([]string, len(next.Players))
	for i, p := range next.Players {
		order[i] = p.ID
	}

	next.Phase = PhaseInProgress
	next.CurrentEvent = AwaitPlayerRoll
	next.Turn = newTurn(next, 1)

	em.emit(Event{Type: EventGameStarted, PlayerOrder: order, FirstPlayerID: first.ID})
	em.emit(Event{Type: EventTurnStarted, PlayerID: first.ID, TurnNumber: 1})
	return Result{Success: true, State: next, Events: em.events}
}

// processRoll queues the rolled value and decides what comes next: another
// roll on a six, a move choice when the first queued roll has legal moves,
// or the end of the turn. Three sixes in a row void the whole queue.
func processRoll(state *GameState, value int, playerID string) Result {
	next := state.Clone()
	em := newEmitter(next)
	turn := next.Turn

	turn.RollsToAllocate = append(turn.RollsToAllocate, value)
	turn.InitialRoll = false
	rollNumber := len(turn.RollsToAllocate)

	if rollNumber >= 3 && lastThreeAreSixes(turn.RollsToAllocate) {
		em.emit(Event{
			Type:     EventThreeSixesPenalty,
			PlayerID: playerID,
			Rolls:    append([]int(nil), turn.RollsToAllocate[rollNumber-3:]...),
		})
		turn.RollsToAllocate = nil
		endTurn(next, em, playerID, EndReasonThreeSixes)
		return Result{Success: true, State: next, Events: em.events}
	}

	em.emit(Event{
		Type:            EventDiceRolled,
		PlayerID:        playerID,
		Value:           value,
		RollNumber:      rollNumber,
		GrantsExtraRoll: value == 6,
	})

	if value == 6 {
		next.CurrentEvent = AwaitPlayerRoll
		return Result{Success: true, State: next, Events: em.events}
	}

	awaitChoiceOrEndTurn(next, em, playerID)
	return Result{Success: true, State: next, Events: em.events}
}

// awaitChoiceOrEndTurn computes legal moves for the first queued roll and
// either hands the player the choice or ends the turn for lack of moves.
func awaitChoiceOrEndTurn(state *GameState, em *emitter, playerID string) {
	turn := state.Turn
	roll := turn.RollsToAllocate[0]
	legal := LegalMoves(state, playerID, roll)
	if len(legal) > 0 {
		turn.LegalMoves = legal
		state.CurrentEvent = AwaitPlayerChoice
		em.emit(Event{
			Type:           EventAwaitingChoice,
			PlayerID:       playerID,
			LegalMoves:     append([]string(nil), legal...),
			RollToAllocate: roll,
		})
		return
	}
	turn.RollsToAllocate = nil
	endTurn(state, em, playerID, EndReasonNoLegalMoves)
}

// processCaptureChoice is the resolution hook for contested captures.
// The choice flow is not designed yet, so the state passes through unchanged.
// TODO: resolve pending captures once the ruleset defines choice semantics.
func processCaptureChoice(state *GameState) Result {
	return Result{Success: true, State: state.Clone()}
}

// endTurn hands the turn to the next player in order.
func endTurn(state *GameState, em *emitter, playerID, reason string) {
	nextOrder := state.Turn.TurnOrder%len(state.Players) + 1
	nextPlayer := state.PlayerByOrder(nextOrder)

	em.emit(Event{Type: EventTurnEnded, PlayerID: playerID, Reason: reason, NextPlayerID: nextPlayer.ID})
	em.emit(Event{Type: EventTurnStarted, PlayerID: nextPlayer.ID, TurnNumber: nextOrder})

	state.Turn = newTurn(state, nextOrder)
	state.CurrentEvent = AwaitPlayerRoll
}

func newTurn(state *GameState, order int) *Turn {
	return &Turn{
		PlayerID:    state.PlayerByOrder(order).ID,
		InitialRoll: true,
		TurnOrder:   order,
	}
}

// afterMove handles the bookkeeping common to every successful move: the
// next queued roll, banked extra rolls, win detection, and the turn handoff.
func afterMove(state *GameState, em *emitter, playerID string) {
	if allTokensInHeaven(state, playerID) {
		state.Phase = PhaseFinished
		state.Winner = playerID
		state.Turn = nil
		em.emit(Event{
			Type:          EventGameEnded,
			WinnerID:      playerID,
			FinalRankings: finalRankings(state, playerID),
		})
		return
	}

	turn := state.Turn
	if len(turn.RollsToAllocate) > 0 {
		awaitChoiceOrEndTurn(state, em, playerID)
		return
	}

	if turn.ExtraRolls > 0 {
		turn.ExtraRolls--
		state.CurrentEvent = AwaitPlayerRoll
		return
	}

	endTurn(state, em, playerID, EndReasonAllRollsUsed)
}

// finalRankings lists the winner first and everyone else in turn order.
func finalRankings(state *GameState, winnerID string) []string {
	rankings := []string{winnerID}
	for _, p := range state.Players {
		if p.ID != winnerID {
			rankings = append(rankings, p.ID)
		}
	}
	return rankings
}

func allTokensInHeaven(state *GameState, playerID string) bool {
	for _, t := range state.Tokens {
		if t.PlayerID == playerID && t.Zone != ZoneHeaven {
			return false
		}
	}
	return true
}

func lastThreeAreSixes(rolls []int) bool {
	n := len(rolls)
	return rolls[n-1] == 6 && rolls[n-2] == 6 && rolls[n-3] == 6
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
