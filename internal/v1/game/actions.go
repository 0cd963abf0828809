package game

// ActionType enumerates the player actions the engine accepts.
type ActionType string

const (
	ActionStartGame     ActionType = "start_game"
	ActionRoll          ActionType = "roll"
	ActionMove          ActionType = "move"
	ActionCaptureChoice ActionType = "capture_choice"
)

// Action is a player's request. Roll carries the dice value; Move names
// either a token id or a stack selector: "stack_id" moves the whole stack,
// "stack_id:k" splits off k tokens.
type Action struct {
	Type           ActionType `json:"action_type"`
	Value          int        `json:"value,omitempty"`
	TokenOrStackID string     `json:"token_or_stack_id,omitempty"`
	Choice         string     `json:"choice,omitempty"`
}

// Error codes surfaced to clients via game_error.
const (
	ErrCodeGameNotStarted     = "GAME_NOT_STARTED"
	ErrCodeGameAlreadyStarted = "GAME_ALREADY_STARTED"
	ErrCodeGameFinished       = "GAME_FINISHED"
	ErrCodeNoActiveTurn       = "NO_ACTIVE_TURN"
	ErrCodeNotYourTurn        = "NOT_YOUR_TURN"
	ErrCodeInvalidAction      = "INVALID_ACTION"
	ErrCodeIllegalMove        = "ILLEGAL_MOVE"
	ErrCodeValidation         = "VALIDATION_ERROR"
)

// Result is the outcome of Process. On failure the returned state is the
// input state unchanged and ErrorCode/ErrorMessage are set.
type Result struct {
	Success      bool       `json:"success"`
	State        *GameState `json:"state"`
	Events       []Event    `json:"events,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func failure(state *GameState, code, message string) Result {
	return Result{Success: false, State: state, ErrorCode: code, ErrorMessage: message}
}
