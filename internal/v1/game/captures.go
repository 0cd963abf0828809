package game

import (
	"k8s.io/utils/set"
)

// resolveCollision handles whatever the moved group landed on. Own pieces on
// the square merge into a stack. Opponent pieces are captured when the moving
// group is at least as tall and the square is not safe; otherwise the pieces
// coexist. Only road squares are shared, so callers only invoke this for road
// landings.
func resolveCollision(state *GameState, em *emitter, playerID string, movedIDs []string, progress int) {
	absPos := state.AbsolutePosition(playerID, progress)
	moved := set.New(movedIDs...)

	group := mergeOwnPieces(state, em, playerID, moved, absPos, progress)
	captureOpponents(state, em, playerID, group, absPos)
}

// mergeOwnPieces folds the player's other pieces on the square into one stack
// with the moved group. Returns the token ids occupying the square afterwards.
func mergeOwnPieces(state *GameState, em *emitter, playerID string, moved set.Set[string], absPos, progress int) []string {
	group := moved.SortedList()

	var looseIDs []string
	for _, t := range sortedTokens(state) {
		if t.PlayerID != playerID || t.StackID != "" || t.Zone != ZoneRoad || moved.Has(t.ID) {
			continue
		}
		if state.AbsolutePosition(playerID, t.Progress) == absPos {
			looseIDs = append(looseIDs, t.ID)
		}
	}

	var restingStacks []*Stack
	movedStackID := ""
	if id := state.Tokens[group[0]].StackID; id != "" {
		movedStackID = id
	}
	for _, st := range sortedStacks(state) {
		if st.PlayerID != playerID || st.Zone != ZoneRoad || st.ID == movedStackID {
			continue
		}
		if state.AbsolutePosition(playerID, st.Progress) == absPos {
			restingStacks = append(restingStacks, st)
		}
	}

	if len(looseIDs) == 0 && len(restingStacks) == 0 {
		return group
	}

	// Fold everything into the moved stack, or a fresh one when the moved
	// piece was a lone token.
	var base *Stack
	if movedStackID != "" {
		base = state.Stacks[movedStackID]
	} else {
		base = &Stack{
			ID:       nextStackID(state, playerID),
			PlayerID: playerID,
			TokenIDs: group,
			Zone:     ZoneRoad,
			Progress: progress,
		}
		state.Stacks[base.ID] = base
	}

	base.TokenIDs = append(base.TokenIDs, looseIDs...)
	for _, st := range restingStacks {
		base.TokenIDs = append(base.TokenIDs, st.TokenIDs...)
		em.emit(Event{
			Type:     EventStackDissolved,
			PlayerID: playerID,
			StackID:  st.ID,
			TokenIDs: append([]string(nil), st.TokenIDs...),
			Reason:   DissolveReasonMerged,
		})
		delete(state.Stacks, st.ID)
	}
	syncStackTokens(state, base)

	em.emit(Event{
		Type:     EventStackFormed,
		PlayerID: playerID,
		StackID:  base.ID,
		TokenIDs: append([]string(nil), base.TokenIDs...),
		Position: absPos,
	})
	return base.TokenIDs
}

// captureOpponents sends opponent pieces on the square back to hell when the
// moving group is at least as tall and the square is not safe. Captures bank
// extra rolls on the turn per the ruleset's mode.
func captureOpponents(state *GameState, em *emitter, playerID string, group []string, absPos int) {
	if state.Board.IsSafe(absPos) {
		return
	}
	groupSize := len(group)

	for _, t := range sortedTokens(state) {
		if t.PlayerID == playerID || t.StackID != "" || t.Zone != ZoneRoad {
			continue
		}
		if state.AbsolutePosition(t.PlayerID, t.Progress) != absPos || groupSize < 1 {
			continue
		}
		captureTokens(state, em, playerID, group[0], t.PlayerID, []string{t.ID}, absPos)
	}

	for _, st := range sortedStacks(state) {
		if st.PlayerID == playerID || st.Zone != ZoneRoad {
			continue
		}
		if state.AbsolutePosition(st.PlayerID, st.Progress) != absPos || groupSize < st.Height() {
			continue
		}
		em.emit(Event{
			Type:     EventStackDissolved,
			PlayerID: st.PlayerID,
			StackID:  st.ID,
			TokenIDs: append([]string(nil), st.TokenIDs...),
			Reason:   DissolveReasonCaptured,
		})
		captureTokens(state, em, playerID, group[0], st.PlayerID, st.TokenIDs, absPos)
		delete(state.Stacks, st.ID)
	}
}

// captureTokens sends the victim tokens to hell and banks the extra rolls.
func captureTokens(state *GameState, em *emitter, capturerID, capturingTokenID, victimID string, tokenIDs []string, absPos int) {
	mode := state.Ruleset.CaptureExtraRollMode()
	captured := append([]string(nil), tokenIDs...)

	for _, id := range captured {
		token := state.Tokens[id]
		token.Zone = ZoneHell
		token.Progress = 0
		token.StackID = ""
		em.emit(Event{
			Type:             EventTokenCaptured,
			PlayerID:         capturerID,
			CapturingTokenID: capturingTokenID,
			CapturedPlayerID: victimID,
			CapturedTokenID:  id,
			Position:         absPos,
			GrantsExtraRoll:  mode != CaptureRollsNone,
		})
	}

	if state.Turn == nil {
		return
	}
	switch mode {
	case CaptureRollsPerToken:
		state.Turn.ExtraRolls += len(captured)
	case CaptureRollsSingle:
		state.Turn.ExtraRolls++
	}
}
