package game

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// LegalMoves enumerates the movable pieces for one roll value. Selectors
// follow the wire form: a token id, a stack id, or "stack_id:k" for a split
// of k tokens. Pure: same state and roll always produce the same list.
//
// Tokens in hell exit on a get-out roll. Tokens on the board move when the
// full roll fits within the remaining track. A stack of height h moves
// whole when h divides the roll, and any k in [1,h) tokens may split off
// when k divides the roll; the group always advances roll/size squares.
func LegalMoves(state *GameState, playerID string, roll int) []string {
	var selectors []string

	for _, t := range sortedTokens(state) {
		if t.PlayerID != playerID || t.StackID != "" {
			continue
		}
		switch t.Zone {
		case ZoneHell:
			if state.Board.IsGetOutRoll(roll) {
				selectors = append(selectors, t.ID)
			}
		case ZoneRoad, ZoneHomestretch:
			if t.Progress+roll <= state.Board.SquaresToWin {
				selectors = append(selectors, t.ID)
			}
		}
	}

	for _, st := range sortedStacks(state) {
		if st.PlayerID != playerID || (st.Zone != ZoneRoad && st.Zone != ZoneHomestretch) {
			continue
		}
		h := st.Height()
		if roll%h == 0 && st.Progress+roll/h <= state.Board.SquaresToWin {
			selectors = append(selectors, st.ID)
		}
		for k := 1; k < h; k++ {
			if roll%k == 0 && st.Progress+roll/k <= state.Board.SquaresToWin {
				selectors = append(selectors, fmt.Sprintf("%s:%d", st.ID, k))
			}
		}
	}

	return selectors
}

// parseSelector splits "stack_id:k" selectors. count is 0 for plain ids.
func parseSelector(selector string) (id string, count int, err error) {
	idx := strings.LastIndex(selector, ":")
	if idx < 0 {
		return selector, 0, nil
	}
	count, err = strconv.Atoi(selector[idx+1:])
	if err != nil || count < 1 {
		return "", 0, fmt.Errorf("bad split count in selector %q", selector)
	}
	return selector[:idx], count, nil
}

// sortedTokens returns tokens in a stable order so legal-move enumeration
// and event emission are deterministic.
func sortedTokens(state *GameState) []*Token {
	ids := make([]string, 0, len(state.Tokens))
	for id := range state.Tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tokens := make([]*Token, len(ids))
	for i, id := range ids {
		tokens[i] = state.Tokens[id]
	}
	return tokens
}

func sortedStacks(state *GameState) []*Stack {
	ids := make([]string, 0, len(state.Stacks))
	for id := range state.Stacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	stacks := make([]*Stack, len(ids))
	for i, id := range ids {
		stacks[i] = state.Stacks[id]
	}
	return stacks
}
