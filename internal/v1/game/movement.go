package game

import (
	"fmt"
)

// processMove consumes the first queued roll on the named piece, resolves
// whatever it landed on, then decides how the turn continues. The selector
// was already checked against the turn's legal moves.
func processMove(state *GameState, selector, playerID string) Result {
	id, splitCount, err := parseSelector(selector)
	if err != nil {
		return failure(state, ErrCodeIllegalMove, err.Error())
	}

	next := state.Clone()
	em := newEmitter(next)
	turn := next.Turn

	roll := turn.RollsToAllocate[0]
	turn.RollsToAllocate = turn.RollsToAllocate[1:]
	turn.LegalMoves = nil

	if token, ok := next.Tokens[id]; ok && splitCount == 0 {
		moveToken(next, em, token, roll)
	} else if stack, ok := next.Stacks[id]; ok {
		moveStack(next, em, stack, splitCount, roll)
	} else {
		// The legal-moves list already vetted the selector; reaching this
		// means state and selector disagree.
		return failure(state, ErrCodeIllegalMove, fmt.Sprintf("no piece %q", id))
	}

	afterMove(next, em, playerID)
	return Result{Success: true, State: next, Events: em.events}
}

// moveToken advances a single token, handling hell exit, the road to
// homestretch transition, and reaching heaven.
func moveToken(state *GameState, em *emitter, token *Token, roll int) {
	if token.Zone == ZoneHell {
		token.Zone = ZoneRoad
		token.Progress = 0
		em.emit(Event{Type: EventTokenExitedHell, PlayerID: token.PlayerID, TokenID: token.ID, RollUsed: roll})
		resolveCollision(state, em, token.PlayerID, []string{token.ID}, token.Progress)
		return
	}

	from := token.Progress
	fromZone := token.Zone
	to := from + roll
	token.Progress = to
	switch {
	case to == state.Board.SquaresToWin:
		token.Zone = ZoneHeaven
	case to >= state.Board.SquaresToHomestretch:
		token.Zone = ZoneHomestretch
	default:
		token.Zone = ZoneRoad
	}

	em.emit(Event{
		Type:         EventTokenMoved,
		PlayerID:     token.PlayerID,
		TokenID:      token.ID,
		FromState:    fromZone,
		ToState:      token.Zone,
		FromProgress: from,
		ToProgress:   to,
		RollUsed:     roll,
	})

	switch token.Zone {
	case ZoneHeaven:
		em.emit(Event{Type: EventTokenReachedHeaven, PlayerID: token.PlayerID, TokenID: token.ID})
	case ZoneRoad:
		resolveCollision(state, em, token.PlayerID, []string{token.ID}, to)
	}
}

// moveStack advances a stack, whole or split. A group of size k advances
// roll/k squares. A split of one token dissolves into a plain token move;
// a larger split becomes a new stack.
func moveStack(state *GameState, em *emitter, stack *Stack, splitCount, roll int) {
	if splitCount == 0 || splitCount >= stack.Height() {
		advanceStack(state, em, stack, roll/stack.Height(), roll)
		return
	}

	// Split the top of the stack off as the moving group.
	movingIDs := append([]string(nil), stack.TokenIDs[stack.Height()-splitCount:]...)
	stack.TokenIDs = stack.TokenIDs[:stack.Height()-splitCount]
	remainingIDs := append([]string(nil), stack.TokenIDs...)

	var split *Stack
	newStackID := ""
	if splitCount > 1 {
		split = &Stack{
			ID:       nextStackID(state, stack.PlayerID),
			PlayerID: stack.PlayerID,
			TokenIDs: movingIDs,
			Zone:     stack.Zone,
			Progress: stack.Progress,
		}
		newStackID = split.ID
	}

	em.emit(Event{
		Type:              EventStackSplit,
		PlayerID:          stack.PlayerID,
		StackID:           stack.ID,
		TokenIDs:          movingIDs,
		RemainingTokenIDs: remainingIDs,
		NewStackID:        newStackID,
	})
	dissolveIfSingle(state, em, stack)

	if split == nil {
		token := state.Tokens[movingIDs[0]]
		token.StackID = ""
		token.Progress = stack.Progress
		moveToken(state, em, token, roll)
		return
	}

	state.Stacks[split.ID] = split
	for _, id := range movingIDs {
		state.Tokens[id].StackID = split.ID
	}
	advanceStack(state, em, split, roll/splitCount, roll)
}

// advanceStack moves a stack by distance squares and mirrors the movement
// onto its member tokens.
func advanceStack(state *GameState, em *emitter, stack *Stack, distance, roll int) {
	from := stack.Progress
	to := from + distance
	stack.Progress = to

	em.emit(Event{
		Type:          EventStackMoved,
		PlayerID:      stack.PlayerID,
		StackID:       stack.ID,
		TokenIDs:      append([]string(nil), stack.TokenIDs...),
		FromProgress:  from,
		ToProgress:    to,
		RollUsed:      roll,
		EffectiveRoll: distance,
	})

	switch {
	case to == state.Board.SquaresToWin:
		for _, id := range stack.TokenIDs {
			token := state.Tokens[id]
			token.Zone = ZoneHeaven
			token.Progress = to
			token.StackID = ""
			em.emit(Event{Type: EventTokenReachedHeaven, PlayerID: token.PlayerID, TokenID: token.ID})
		}
		delete(state.Stacks, stack.ID)
	case to >= state.Board.SquaresToHomestretch:
		stack.Zone = ZoneHomestretch
		syncStackTokens(state, stack)
	default:
		stack.Zone = ZoneRoad
		syncStackTokens(state, stack)
		resolveCollision(state, em, stack.PlayerID, stack.TokenIDs, to)
	}
}

func syncStackTokens(state *GameState, stack *Stack) {
	for _, id := range stack.TokenIDs {
		token := state.Tokens[id]
		token.Zone = stack.Zone
		token.Progress = stack.Progress
		token.StackID = stack.ID
	}
}

// dissolveIfSingle unwraps a stack left with one member after a split.
func dissolveIfSingle(state *GameState, em *emitter, stack *Stack) {
	if stack.Height() != 1 {
		return
	}
	token := state.Tokens[stack.TokenIDs[0]]
	token.StackID = ""
	token.Zone = stack.Zone
	token.Progress = stack.Progress
	em.emit(Event{
		Type:     EventStackDissolved,
		PlayerID: stack.PlayerID,
		StackID:  stack.ID,
		TokenIDs: append([]string(nil), stack.TokenIDs...),
		Reason:   DissolveReasonSplit,
	})
	delete(state.Stacks, stack.ID)
}

func nextStackID(state *GameState, playerID string) string {
	if state.StacksFormed == nil {
		state.StacksFormed = map[string]int{}
	}
	state.StacksFormed[playerID]++
	return fmt.Sprintf("%s_stack_%d", playerID, state.StacksFormed[playerID])
}
