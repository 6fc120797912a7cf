package synth

import (
	"context"
	"fmt"
)

// Capability describes how a backend supports cutting a multi-unit payload
// back into per-unit audio. The pipeline dispatches on capability, never on
// vendor, so adding a vendor means adding one Backend implementation.
type Capability int

const (
	// CapMarkTimepoints backends accept marked-up payloads and report a named
	// timepoint for every boundary marker.
	CapMarkTimepoints Capability = iota
	// CapCharAlignment backends accept plain text and return per-character
	// start/end times.
	CapCharAlignment
	// CapSingleUnit backends have no in-request splitting support; one call
	// synthesizes exactly one unit, and the whole buffer is the segment.
	CapSingleUnit
)

func (c Capability) String() string {
	switch c {
	case CapMarkTimepoints:
		return "mark-timepoints"
	case CapCharAlignment:
		return "char-alignment"
	case CapSingleUnit:
		return "single-unit"
	}
	return "unknown"
}

// Timepoint is a backend-reported position of one boundary marker.
type Timepoint struct {
	Mark    string
	Seconds float64
}

// Alignment carries per-character timing, the finer-grained timing source
// used by backends without a marker concept.
type Alignment struct {
	Chars  []string
	Starts []float64
	Ends   []float64
}

// Validate checks that the parallel arrays agree.
func (a *Alignment) Validate() error {
	if len(a.Chars) != len(a.Starts) || len(a.Chars) != len(a.Ends) {
		return fmt.Errorf("alignment arrays mismatch: %d chars, %d starts, %d ends",
			len(a.Chars), len(a.Starts), len(a.Ends))
	}
	return nil
}

// Request is the per-call synthesis contract shared by all backends.
type Request struct {
	// Payload is markup for mark backends, plain text otherwise.
	Payload  string
	Voice    string
	Language string
	Speed    float64
	Pitch    float64
	// PrecedingText gives alignment backends pronunciation continuity across
	// resplit chunks.
	PrecedingText string
}

// Result is one backend response. Audio is always a WAV buffer in the
// pipeline encoding; timing data is present according to capability.
type Result struct {
	Audio      []byte
	Timepoints []Timepoint
	Alignment  *Alignment
	// SpeedApplied reports whether the backend honored Request.Speed
	// natively. Single-unit callers tempo-scale afterwards when false.
	SpeedApplied bool
}

// Backend is one synthesis vendor. Implementations never retry; retry policy
// belongs to the caller.
type Backend interface {
	Capability() Capability
	Synthesize(ctx context.Context, req Request) (Result, error)
}
