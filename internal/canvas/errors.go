package canvas

import "errors"

var (
	// ErrSwitchInProgress is returned while another imagery switch runs.
	ErrSwitchInProgress = errors.New("imagery switch already in progress")
	// ErrUnknownImagery is returned for layer names missing from the catalog.
	ErrUnknownImagery = errors.New("unknown imagery layer")
	// ErrNotDrawing is returned for draw input outside the drawing state.
	ErrNotDrawing = errors.New("no draw tool active")
	// ErrNotEditing is returned for vertex edits without a selection.
	ErrNotEditing = errors.New("no feature selected")
	// ErrTooFewVertices is returned when finishing an incomplete shape.
	ErrTooFewVertices = errors.New("not enough vertices")
)
