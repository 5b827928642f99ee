package dataset

import "fmt"

// DataLoadError reports malformed or missing source data. Fatal: the run
// aborts before any calibration.
type DataLoadError struct {
	Path string
	Msg  string
	Err  error
}

func (e *DataLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.Path, e.Msg)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// InsufficientDataError reports a persona that cannot satisfy the balanced
// steer-set size. The run aborts rather than silently shrinking the steer
// set, preserving the label-balance invariant.
type InsufficientDataError struct {
	PersonaID string
	Label     string
	Need      int
	Have      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("persona %s: need %d %q observations for steer set, have %d",
		e.PersonaID, e.Need, e.Label, e.Have)
}
