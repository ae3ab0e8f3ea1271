package director

import "time"

type State string

const (
	StateSearching    State = "searching_controllers"
	StateInitializing State = "initializing_controllers"
	StateOperating    State = "operating"
)

type ControllerStatus struct {
	ID    string `json:"id"`
	Link  string `json:"link"`
	State string `json:"state"`
}

type Status struct {
	State           State              `json:"state"`
	Previous        State              `json:"previous_state,omitempty"`
	Settled         bool               `json:"settled"`
	Controllers     []ControllerStatus `json:"controllers"`
	LastStateChange time.Time          `json:"last_state_change"`
}
