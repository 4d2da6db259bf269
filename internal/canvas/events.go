package canvas

import (
	"github.com/woozymasta/farmcanvas/internal/feature"
)

// State is the controller state.
type State string

// Controller states.
const (
	StateIdle           State = "idle"
	StateDrawing        State = "drawing"
	StateEditing        State = "editing"
	StateStyleSwitching State = "style_switching"
)

// Tool is a draw tool.
type Tool string

// Draw tools. Circle is turned into a polygon.
const (
	ToolNone    Tool = ""
	ToolPoint   Tool = "point"
	ToolLine    Tool = "line"
	ToolPolygon Tool = "polygon"
	ToolCircle  Tool = "circle"
)

// ParseTool validates a tool name.
func ParseTool(s string) (Tool, bool) {
	switch Tool(s) {
	case ToolPoint, ToolLine, ToolPolygon, ToolCircle:
		return Tool(s), true
	}
	return ToolNone, false
}

// EventKind names a host UI event.
type EventKind string

// Host UI events.
const (
	EventState    EventKind = "state"
	EventSelect   EventKind = "select"
	EventDeselect EventKind = "deselect"
	EventWarning  EventKind = "warning"
	EventPrompt   EventKind = "prompt"
	EventImagery  EventKind = "imagery"
)

// Event is published to the host UI.
type Event struct {
	Kind      EventKind       `json:"kind"`
	State     State           `json:"state,omitempty"`
	Tool      Tool            `json:"tool,omitempty"`
	FeatureID string          `json:"feature_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Imagery   string          `json:"imagery,omitempty"`
	Prompt    *feature.Prompt `json:"prompt,omitempty"`
}

// Snapshot is the controller state visible to the host UI.
type Snapshot struct {
	State    State  `json:"state"`
	Tool     Tool   `json:"tool,omitempty"`
	Selected string `json:"selected,omitempty"`
	Imagery  string `json:"imagery"`
	Vertices int    `json:"vertices"`
}
