package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// ErrInvalidRequest is returned by Submit for malformed requests.
var ErrInvalidRequest = errors.New("worker: invalid request")

// Action tags a storage request.
type Action string

// Storage actions.
const (
	ActionSetSelectedChannels Action = "setSelectedChannels"
	ActionAppend              Action = "append"
	ActionListFiles           Action = "listFiles"
	ActionExportAll           Action = "exportAll"
	ActionExportOne           Action = "exportOne"
	ActionExportEDF           Action = "exportEDF"
	ActionDeleteOne           Action = "deleteOne"
	ActionDeleteAll           Action = "deleteAll"
)

// global reports whether the action touches every recording rather than one.
func (a Action) global() bool {
	switch a {
	case ActionSetSelectedChannels, ActionListFiles, ActionExportAll, ActionDeleteAll:
		return true
	}
	return false
}

// Request is one storage operation. ID correlates it with its Response;
// Ctx carries cancellation and deadlines.
type Request struct {
	ID       string
	Ctx      context.Context
	Action   Action
	Filename string
	Rows     []sample.Row
	Channels []int

	// exportEDF writes straight into Output.
	SamplingRate int
	Output       io.WriteSeeker
}

func (r Request) validate() error {
	switch r.Action {
	case ActionAppend, ActionExportOne, ActionDeleteOne:
		if r.Filename == "" {
			return fmt.Errorf("%w: %s requires a filename", ErrInvalidRequest, r.Action)
		}
	case ActionExportEDF:
		switch {
		case r.Filename == "":
			return fmt.Errorf("%w: %s requires a filename", ErrInvalidRequest, r.Action)
		case r.Output == nil:
			return fmt.Errorf("%w: %s requires an output", ErrInvalidRequest, r.Action)
		case r.SamplingRate <= 0:
			return fmt.Errorf("%w: %s requires a sampling rate", ErrInvalidRequest, r.Action)
		}
	case ActionSetSelectedChannels, ActionListFiles, ActionExportAll, ActionDeleteAll:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, r.Action)
	}
	return nil
}

// Response is the outcome of one Request. Err is set on failure and the
// payload fields are then empty.
type Response struct {
	ID       string
	Action   Action
	Filename string
	Files    []string // listFiles
	Data     []byte   // exportOne (CSV), exportAll (zip)
	Rows     int      // rows appended or exported, or archive entries
	Err      error
}
