package synth

import (
	"context"
	"testing"
)

func TestParseVoice(t *testing.T) {
	cases := []struct {
		in       string
		wantCap  Capability
		wantID   string
		wantLang string
		wantErr  bool
	}{
		{in: "es-ES-Neural2-A", wantCap: CapMarkTimepoints, wantID: "es-ES-Neural2-A", wantLang: "es-ES"},
		{in: "cmn-CN-Wavenet-B", wantCap: CapMarkTimepoints, wantID: "cmn-CN-Wavenet-B", wantLang: "cmn-CN"},
		{in: "el:pMsXgVXv3BLz", wantCap: CapCharAlignment, wantID: "pMsXgVXv3BLz"},
		{in: "local:lessac", wantCap: CapSingleUnit, wantID: "lessac"},
		{in: "el:", wantErr: true},
		{in: "local:", wantErr: true},
		{in: "not a voice", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		info, err := ParseVoice(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseVoice(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVoice(%q): %v", tc.in, err)
			continue
		}
		if info.Capability != tc.wantCap || info.ID != tc.wantID || info.Language != tc.wantLang {
			t.Errorf("ParseVoice(%q) = %+v", tc.in, info)
		}
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	mock := NewMockBackend(CapSingleUnit, func(context.Context, Request) (Result, error) {
		return Result{}, nil
	})
	r.Register(mock)

	b, err := r.Select(CapSingleUnit)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if b != mock {
		t.Fatal("registry returned a different backend")
	}
	if _, err := r.Select(CapMarkTimepoints); err == nil {
		t.Fatal("expected error for unregistered capability")
	}
}
