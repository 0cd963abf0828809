package game

// EventType enumerates everything the engine can report.
type EventType string

const (
	EventGameStarted          EventType = "game_started"
	EventDiceRolled           EventType = "dice_rolled"
	EventThreeSixesPenalty    EventType = "three_sixes_penalty"
	EventTokenMoved           EventType = "token_moved"
	EventTokenExitedHell      EventType = "token_exited_hell"
	EventTokenReachedHeaven   EventType = "token_reached_heaven"
	EventTokenCaptured        EventType = "token_captured"
	EventStackFormed          EventType = "stack_formed"
	EventStackDissolved       EventType = "stack_dissolved"
	EventStackSplit           EventType = "stack_split"
	EventStackMoved           EventType = "stack_moved"
	EventTurnStarted          EventType = "turn_started"
	EventTurnEnded            EventType = "turn_ended"
	EventAwaitingChoice       EventType = "awaiting_choice"
	EventAwaitingCapture      EventType = "awaiting_capture_choice"
	EventGameEnded            EventType = "game_ended"
)

// Turn end reasons.
const (
	EndReasonThreeSixes   = "three_sixes"
	EndReasonNoLegalMoves = "no_legal_moves"
	EndReasonAllRollsUsed = "all_rolls_used"
)

// Stack dissolve reasons.
const (
	DissolveReasonCaptured = "captured"
	DissolveReasonSplit    = "split"
	DissolveReasonMerged   = "merged"
)

// Event is one thing that happened during Process. Seq numbers are assigned
// in emission order from the state's running counter, so clients can order
// and de-duplicate deliveries. Fields beyond Seq/Type/PlayerID are set per
// event type.
type Event struct {
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	PlayerID string    `json:"player_id,omitempty"`

	// game_started
	PlayerOrder   []string `json:"player_order,omitempty"`
	FirstPlayerID string   `json:"first_player_id,omitempty"`

	// dice_rolled / three_sixes_penalty
	Value           int   `json:"value,omitempty"`
	RollNumber      int   `json:"roll_number,omitempty"`
	GrantsExtraRoll bool  `json:"grants_extra_roll,omitempty"`
	Rolls           []int `json:"rolls,omitempty"`

	// token and stack movement
	TokenID       string `json:"token_id,omitempty"`
	StackID       string `json:"stack_id,omitempty"`
	FromState     Zone   `json:"from_state,omitempty"`
	ToState       Zone   `json:"to_state,omitempty"`
	FromProgress  int    `json:"from_progress,omitempty"`
	ToProgress    int    `json:"to_progress,omitempty"`
	RollUsed      int    `json:"roll_used,omitempty"`
	EffectiveRoll int    `json:"effective_roll,omitempty"`

	// stack membership changes
	TokenIDs          []string `json:"token_ids,omitempty"`
	RemainingTokenIDs []string `json:"remaining_token_ids,omitempty"`
	NewStackID        string   `json:"new_stack_id,omitempty"`
	Position          int      `json:"position,omitempty"`

	// token_captured
	CapturingTokenID string `json:"capturing_token_id,omitempty"`
	CapturedPlayerID string `json:"captured_player_id,omitempty"`
	CapturedTokenID  string `json:"captured_token_id,omitempty"`

	// turn_ended / turn_started
	Reason       string `json:"reason,omitempty"`
	NextPlayerID string `json:"next_player_id,omitempty"`
	TurnNumber   int    `json:"turn_number,omitempty"`

	// awaiting_choice / awaiting_capture_choice
	LegalMoves     []string `json:"legal_moves,omitempty"`
	RollToAllocate int      `json:"roll_to_allocate,omitempty"`
	Options        []string `json:"options,omitempty"`

	// game_ended
	WinnerID      string   `json:"winner_id,omitempty"`
	FinalRankings []string `json:"final_rankings,omitempty"`
}

// emitter assigns sequence numbers from the state counter in emission order.
type emitter struct {
	state  *GameState
	events []Event
}

func newEmitter(state *GameState) *emitter {
	return &emitter{state: state}
}

func (e *emitter) emit(ev Event) {
	ev.Seq = e.state.EventSeq
	e.state.EventSeq++
	e.events = append(e.events, ev)
}
