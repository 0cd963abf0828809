package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeStack places a stack of the given tokens on the road and mirrors the
// stack position onto them.
func makeStack(state *GameState, id, playerID string, progress int, tokenIDs ...string) *Stack {
	st := &Stack{ID: id, PlayerID: playerID, TokenIDs: tokenIDs, Zone: ZoneRoad, Progress: progress}
	state.Stacks[id] = st
	for _, tid := range tokenIDs {
		tok := state.Tokens[tid]
		tok.Zone = ZoneRoad
		tok.Progress = progress
		tok.StackID = id
	}
	return st
}

func TestExitHellPlacesTokenOnOwnStart(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	awaitChoice(state, []int{6}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	exited := findEvent(t, res.Events, EventTokenExitedHell)
	assert.Equal(t, "p1_token_1", exited.TokenID)
	assert.Equal(t, 6, exited.RollUsed)

	tok := res.State.Tokens["p1_token_1"]
	assert.Equal(t, ZoneRoad, tok.Zone)
	assert.Equal(t, 0, tok.Progress)
}

func TestRoadToHomestretchTransition(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 50)
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	moved := findEvent(t, res.Events, EventTokenMoved)
	assert.Equal(t, ZoneRoad, moved.FromState)
	assert.Equal(t, ZoneHomestretch, moved.ToState)
	assert.Equal(t, 50, moved.FromProgress)
	assert.Equal(t, 53, moved.ToProgress)
	assert.Equal(t, ZoneHomestretch, res.State.Tokens["p1_token_1"].Zone)
}

func TestExactRollReachesHeaven(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	tok := state.Tokens["p1_token_1"]
	tok.Zone = ZoneHomestretch
	tok.Progress = 57
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	assert.Equal(t, ZoneHeaven, res.State.Tokens["p1_token_1"].Zone)
	reached := findEvent(t, res.Events, EventTokenReachedHeaven)
	assert.Equal(t, "p1_token_1", reached.TokenID)
}

func TestLastTokenHomeWinsTheGame(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	for _, id := range []string{"p1_token_1", "p1_token_2", "p1_token_3"} {
		state.Tokens[id].Zone = ZoneHeaven
	}
	tok := state.Tokens["p1_token_4"]
	tok.Zone = ZoneHomestretch
	tok.Progress = 57
	awaitChoice(state, []int{3}, "p1_token_4")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_4"}, "p1")
	require.True(t, res.Success)

	ended := findEvent(t, res.Events, EventGameEnded)
	assert.Equal(t, "p1", ended.WinnerID)
	assert.Equal(t, []string{"p1", "p2"}, ended.FinalRankings)

	assert.Equal(t, PhaseFinished, res.State.Phase)
	assert.Equal(t, "p1", res.State.Winner)
	assert.Nil(t, res.State.Turn)

	// Nothing more is accepted once the game is over.
	res = e.Process(res.State, Action{Type: ActionRoll, Value: 6}, "p2")
	assert.False(t, res.Success)
	assert.Equal(t, ErrCodeGameFinished, res.ErrorCode)
}

func TestStackMovesWholeWhenHeightDividesRoll(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	makeStack(state, "p1_stack_1", "p1", 10, "p1_token_1", "p1_token_2")
	awaitChoice(state, []int{4}, "p1_stack_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1"}, "p1")
	require.True(t, res.Success)

	moved := findEvent(t, res.Events, EventStackMoved)
	assert.Equal(t, 10, moved.FromProgress)
	assert.Equal(t, 12, moved.ToProgress)
	assert.Equal(t, 4, moved.RollUsed)
	assert.Equal(t, 2, moved.EffectiveRoll)

	st := res.State.Stacks["p1_stack_1"]
	require.NotNil(t, st)
	assert.Equal(t, 12, st.Progress)
	for _, id := range st.TokenIDs {
		assert.Equal(t, 12, res.State.Tokens[id].Progress)
	}
}

func TestStackSplitOfOneBecomesTokenMove(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	makeStack(state, "p1_stack_1", "p1", 10, "p1_token_1", "p1_token_2")
	awaitChoice(state, []int{4}, "p1_stack_1:1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1:1"}, "p1")
	require.True(t, res.Success)

	split := findEvent(t, res.Events, EventStackSplit)
	assert.Equal(t, "p1_stack_1", split.StackID)
	assert.Equal(t, []string{"p1_token_2"}, split.TokenIDs)
	assert.Equal(t, []string{"p1_token_1"}, split.RemainingTokenIDs)
	assert.Empty(t, split.NewStackID)

	// The leftover single-member stack dissolves and the mover walks alone.
	dissolved := findEvent(t, res.Events, EventStackDissolved)
	assert.Equal(t, DissolveReasonSplit, dissolved.Reason)
	assert.NotContains(t, res.State.Stacks, "p1_stack_1")

	moved := findEvent(t, res.Events, EventTokenMoved)
	assert.Equal(t, "p1_token_2", moved.TokenID)
	assert.Equal(t, 14, moved.ToProgress)
	assert.Equal(t, "", res.State.Tokens["p1_token_1"].StackID)
	assert.Equal(t, 10, res.State.Tokens["p1_token_1"].Progress)
}

func TestStackSplitSpawnsNewStack(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	makeStack(state, "p1_stack_1", "p1", 10, "p1_token_1", "p1_token_2", "p1_token_3")
	awaitChoice(state, []int{4}, "p1_stack_1:2")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1:2"}, "p1")
	require.True(t, res.Success)

	split := findEvent(t, res.Events, EventStackSplit)
	assert.Equal(t, []string{"p1_token_2", "p1_token_3"}, split.TokenIDs)
	assert.Equal(t, []string{"p1_token_1"}, split.RemainingTokenIDs)
	require.NotEmpty(t, split.NewStackID)

	moved := findEvent(t, res.Events, EventStackMoved)
	assert.Equal(t, split.NewStackID, moved.StackID)
	assert.Equal(t, 2, moved.EffectiveRoll)
	assert.Equal(t, 12, moved.ToProgress)

	// The single leftover dissolves back to a loose token.
	assert.NotContains(t, res.State.Stacks, "p1_stack_1")
	assert.Equal(t, "", res.State.Tokens["p1_token_1"].StackID)
	st := res.State.Stacks[split.NewStackID]
	require.NotNil(t, st)
	assert.Equal(t, 12, st.Progress)
}

func TestStackReachingWinDisbandsIntoHeaven(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	st := makeStack(state, "p1_stack_1", "p1", 58, "p1_token_1", "p1_token_2")
	st.Zone = ZoneHomestretch
	for _, id := range st.TokenIDs {
		state.Tokens[id].Zone = ZoneHomestretch
	}
	awaitChoice(state, []int{4}, "p1_stack_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1"}, "p1")
	require.True(t, res.Success)

	assert.NotContains(t, res.State.Stacks, "p1_stack_1")
	for _, id := range []string{"p1_token_1", "p1_token_2"} {
		assert.Equal(t, ZoneHeaven, res.State.Tokens[id].Zone)
	}
}

// A banked extra roll sends the player back to rolling instead of ending the
// turn once the queue drains.
func TestBankedExtraRollReturnsToRolling(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 5)
	awaitChoice(state, []int{3}, "p1_token_1")
	state.Turn.ExtraRolls = 1

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	assert.Equal(t, "p1", res.State.Turn.PlayerID)
	assert.Equal(t, 0, res.State.Turn.ExtraRolls)
	assert.Empty(t, res.State.Turn.RollsToAllocate)
	assert.Equal(t, AwaitPlayerRoll, res.State.CurrentEvent)
	for _, ev := range res.Events {
		assert.NotEqual(t, EventTurnEnded, ev.Type)
	}
}
