package runtime

import (
	"errors"
	"fmt"
)

// Turn phases reported by TurnError.
const (
	PhaseLoad    = "load"
	PhaseExecute = "execute"
	PhaseCommit  = "commit"
	PhaseSend    = "send"
)

// TurnError reports why a turn failed and in which phase.
// Nothing is committed or sent when Phase is load, execute or commit.
type TurnError struct {
	Phase          string
	ConversationID string
	Err            error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn for conversation %s failed during %s: %v", e.ConversationID, e.Phase, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

var errNoAuth = errors.New("no auth connection configured")
