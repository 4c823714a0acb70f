package token

import (
	"encoding/json"
	"fmt"

	"github.com/leapdao/acebusters-backend/internal/models"
)

// Action is the closed set of things a signed token can declare
type Action int

const (
	ActionBet Action = iota + 1
	ActionFold
	ActionCheckPre
	ActionCheckFlop
	ActionCheckTurn
	ActionCheckRiver
	ActionShow
	ActionSitOut
	ActionLeave
	ActionMessage
)

var actionNames = map[Action]string{
	ActionBet:        "bet",
	ActionFold:       "fold",
	ActionCheckPre:   "checkPre",
	ActionCheckFlop:  "checkFlop",
	ActionCheckTurn:  "checkTurn",
	ActionCheckRiver: "checkRiver",
	ActionShow:       "show",
	ActionSitOut:     "sitOut",
	ActionLeave:      "leave",
	ActionMessage:    "message",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps a wire name to its Action
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", name)
}

// IsCheck reports one of the street-specific check actions
func (a Action) IsCheck() bool {
	switch a {
	case ActionCheckPre, ActionCheckFlop, ActionCheckTurn, ActionCheckRiver:
		return true
	}
	return false
}

// CheckFor returns the check action that is legal during a street
func CheckFor(state models.HandState) (Action, bool) {
	switch state {
	case models.StatePreflop:
		return ActionCheckPre, true
	case models.StateFlop:
		return ActionCheckFlop, true
	case models.StateTurn:
		return ActionCheckTurn, true
	case models.StateRiver:
		return ActionCheckRiver, true
	}
	return 0, false
}

// Street returns the street a check action belongs to
func (a Action) Street() models.HandState {
	switch a {
	case ActionCheckPre:
		return models.StatePreflop
	case ActionCheckFlop:
		return models.StateFlop
	case ActionCheckTurn:
		return models.StateTurn
	case ActionCheckRiver:
		return models.StateRiver
	}
	return ""
}

func (a Action) MarshalJSON() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("unknown action %d", int(a))
	}
	return json.Marshal(name)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAction(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
