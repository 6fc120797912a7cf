package synth

import (
	"fmt"
	"regexp"
	"strings"
)

// VoiceInfo is the result of parsing a voice identifier. The identifier's
// shape selects the backend family; nothing else in the pipeline looks at
// vendor specifics.
type VoiceInfo struct {
	// ID is the vendor-facing voice name, prefix stripped.
	ID         string
	Capability Capability
	// Language is derived from the identifier when its format encodes one,
	// empty otherwise (callers fall back to the script's language codes).
	Language string
}

// Platform voices look like "es-ES-Neural2-A": locale, model family, variant.
var platformVoicePattern = regexp.MustCompile(`^([a-z]{2,3})-([A-Z]{2})-[A-Za-z0-9]+`)

// ParseVoice classifies a voice identifier.
//
//	"es-ES-Neural2-A"  -> mark-timepoints backend, language es-ES
//	"el:pMsXgVXv3BLz"  -> char-alignment backend
//	"local:lessac"     -> single-unit exec backend
func ParseVoice(voiceID string) (VoiceInfo, error) {
	switch {
	case strings.HasPrefix(voiceID, "el:"):
		id := strings.TrimPrefix(voiceID, "el:")
		if id == "" {
			return VoiceInfo{}, fmt.Errorf("empty alignment voice id %q", voiceID)
		}
		return VoiceInfo{ID: id, Capability: CapCharAlignment}, nil
	case strings.HasPrefix(voiceID, "local:"):
		id := strings.TrimPrefix(voiceID, "local:")
		if id == "" {
			return VoiceInfo{}, fmt.Errorf("empty local voice id %q", voiceID)
		}
		return VoiceInfo{ID: id, Capability: CapSingleUnit}, nil
	default:
		m := platformVoicePattern.FindStringSubmatch(voiceID)
		if m == nil {
			return VoiceInfo{}, fmt.Errorf("unrecognized voice id %q", voiceID)
		}
		return VoiceInfo{
			ID:         voiceID,
			Capability: CapMarkTimepoints,
			Language:   m[1] + "-" + m[2],
		}, nil
	}
}

// Registry holds one backend per capability.
type Registry struct {
	backends map[Capability]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[Capability]Backend)}
}

// Register installs (or replaces) the backend for a capability.
func (r *Registry) Register(b Backend) {
	r.backends[b.Capability()] = b
}

// Select returns the backend serving a capability.
func (r *Registry) Select(cap Capability) (Backend, error) {
	b, ok := r.backends[cap]
	if !ok {
		return nil, fmt.Errorf("no backend registered for capability %s", cap)
	}
	return b, nil
}
