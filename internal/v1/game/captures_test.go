package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Full capture flow: p1 sits 3 short of p2's token on shared square 8, rolls
// a 3, moves, and the capture banks an extra roll that sends p1 back to the
// dice.
func TestCaptureSendsOpponentToHellAndGrantsExtraRoll(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 5)
	// Absolute position 8 seen from p2's start at 26 is progress 34.
	placeOnRoad(state, "p2_token_1", 34)

	res := e.Process(state, Action{Type: ActionRoll, Value: 3}, "p1")
	require.True(t, res.Success)
	require.Contains(t, res.State.Turn.LegalMoves, "p1_token_1")

	res = e.Process(res.State, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	moved := findEvent(t, res.Events, EventTokenMoved)
	assert.Equal(t, 5, moved.FromProgress)
	assert.Equal(t, 8, moved.ToProgress)

	captured := findEvent(t, res.Events, EventTokenCaptured)
	assert.Equal(t, "p1", captured.PlayerID)
	assert.Equal(t, "p1_token_1", captured.CapturingTokenID)
	assert.Equal(t, "p2", captured.CapturedPlayerID)
	assert.Equal(t, "p2_token_1", captured.CapturedTokenID)
	assert.Equal(t, 8, captured.Position)
	assert.True(t, captured.GrantsExtraRoll)

	victim := res.State.Tokens["p2_token_1"]
	assert.Equal(t, ZoneHell, victim.Zone)
	assert.Equal(t, 0, victim.Progress)

	// The banked roll is consumed on the spot: p1 rolls again.
	assert.Equal(t, "p1", res.State.Turn.PlayerID)
	assert.Equal(t, AwaitPlayerRoll, res.State.CurrentEvent)
	assert.Empty(t, res.State.Turn.RollsToAllocate)
	for _, ev := range res.Events {
		assert.NotEqual(t, EventTurnEnded, ev.Type)
	}
}

func TestSafeSquareBlocksCapture(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 23)
	// p2 rests on its own start, absolute 26, which is safe.
	placeOnRoad(state, "p2_token_1", 0)
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	assert.Equal(t, ZoneRoad, res.State.Tokens["p2_token_1"].Zone)
	for _, ev := range res.Events {
		assert.NotEqual(t, EventTokenCaptured, ev.Type)
	}
}

// Entering the homestretch leaves the shared road, so a token parked on the
// shared square straight ahead is out of reach.
func TestHomestretchEntryIgnoresRoadTraffic(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 49)
	// p2 on absolute 0, the square p1 would hit if it were still on the road.
	placeOnRoad(state, "p2_token_1", 26)
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	moved := findEvent(t, res.Events, EventTokenMoved)
	assert.Equal(t, ZoneHomestretch, moved.ToState)
	assert.Equal(t, ZoneRoad, res.State.Tokens["p2_token_1"].Zone)
	for _, ev := range res.Events {
		assert.NotEqual(t, EventTokenCaptured, ev.Type)
	}
}

func TestLoneTokenCannotCaptureTallerStack(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 5)
	// p2 stack of two on absolute 8.
	makeStack(state, "p2_stack_1", "p2", 34, "p2_token_1", "p2_token_2")
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	assert.Contains(t, res.State.Stacks, "p2_stack_1")
	for _, ev := range res.Events {
		assert.NotEqual(t, EventTokenCaptured, ev.Type)
	}
}

func TestEqualHeightStackCapturesWholeStack(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	makeStack(state, "p1_stack_1", "p1", 4, "p1_token_1", "p1_token_2")
	makeStack(state, "p2_stack_1", "p2", 34, "p2_token_1", "p2_token_2")
	awaitChoice(state, []int{8}, "p1_stack_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1"}, "p1")
	require.True(t, res.Success)

	dissolved := findEvent(t, res.Events, EventStackDissolved)
	assert.Equal(t, "p2_stack_1", dissolved.StackID)
	assert.Equal(t, DissolveReasonCaptured, dissolved.Reason)
	assert.NotContains(t, res.State.Stacks, "p2_stack_1")

	for _, id := range []string{"p2_token_1", "p2_token_2"} {
		assert.Equal(t, ZoneHell, res.State.Tokens[id].Zone)
	}
	// Two captured tokens bank two extra rolls; the first is consumed
	// immediately, leaving one.
	assert.Equal(t, 1, res.State.Turn.ExtraRolls)
	assert.Equal(t, AwaitPlayerRoll, res.State.CurrentEvent)
}

func TestLandingOnOwnTokenFormsStack(t *testing.T) {
	e := NewEngine()
	state := twoPlayerFixture()
	placeOnRoad(state, "p1_token_1", 5)
	placeOnRoad(state, "p1_token_2", 8)
	awaitChoice(state, []int{3}, "p1_token_1")

	res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_token_1"}, "p1")
	require.True(t, res.Success)

	formed := findEvent(t, res.Events, EventStackFormed)
	assert.ElementsMatch(t, []string{"p1_token_1", "p1_token_2"}, formed.TokenIDs)
	assert.Equal(t, 8, formed.Position)

	st := res.State.Stacks[formed.StackID]
	require.NotNil(t, st)
	assert.Equal(t, 8, st.Progress)
	for _, id := range st.TokenIDs {
		assert.Equal(t, formed.StackID, res.State.Tokens[id].StackID)
	}
}

func TestCaptureExtraRollModes(t *testing.T) {
	capture := func(mode string) *GameState {
		e := NewEngine()
		state := twoPlayerFixture()
		state.Ruleset.CaptureExtraRolls = mode
		makeStack(state, "p1_stack_1", "p1", 4, "p1_token_1", "p1_token_2")
		makeStack(state, "p2_stack_1", "p2", 34, "p2_token_1", "p2_token_2")
		awaitChoice(state, []int{8}, "p1_stack_1")

		res := e.Process(state, Action{Type: ActionMove, TokenOrStackID: "p1_stack_1"}, "p1")
		require.True(t, res.Success)
		return res.State
	}

	// single: one roll per capture, consumed immediately.
	state := capture(CaptureRollsSingle)
	assert.Equal(t, 0, state.Turn.ExtraRolls)
	assert.Equal(t, AwaitPlayerRoll, state.CurrentEvent)
	assert.Equal(t, "p1", state.Turn.PlayerID)

	// none: captures grant nothing and the turn passes.
	state = capture(CaptureRollsNone)
	assert.Equal(t, "p2", state.Turn.PlayerID)
}
