package mode

import (
	"testing"

	"github.com/menta2k/cropflow/pkg/types"
)

func TestNewStartsInAuto(t *testing.T) {
	c := New()
	if c.Mode() != types.ModeAuto {
		t.Errorf("initial mode = %v, want auto", c.Mode())
	}
	if !c.Accept(c.Begin()) {
		t.Error("fresh token should be accepted")
	}
}

func TestToggleDetectsOnlyOnAutoEntry(t *testing.T) {
	c := New()

	requests := 0
	sequence := []types.Mode{types.ModeManual, types.ModeAuto, types.ModeManual, types.ModeAuto}
	for i, want := range sequence {
		got, _, detect := c.Toggle()
		if got != want {
			t.Fatalf("toggle %d: mode = %v, want %v", i, got, want)
		}
		if detect {
			requests++
			if want != types.ModeAuto {
				t.Errorf("toggle %d: detection requested on manual entry", i)
			}
		}
	}
	if requests != 2 {
		t.Errorf("expected 2 detection requests, got %d", requests)
	}
}

func TestStaleTokenRejectedAfterToggle(t *testing.T) {
	c := New()
	token := c.Begin()

	c.Toggle() // to manual
	if c.Accept(token) {
		t.Error("token accepted in manual mode")
	}

	_, fresh, detect := c.Toggle() // back to auto
	if !detect {
		t.Fatal("expected detection on auto entry")
	}
	if c.Accept(token) {
		t.Error("pre-toggle token accepted after returning to auto")
	}
	if !c.Accept(fresh) {
		t.Error("fresh token rejected")
	}
}

func TestResetInvalidatesTokens(t *testing.T) {
	c := New()
	old := c.Begin()
	c.Toggle()

	c.Reset()
	token := c.Begin()
	if c.Mode() != types.ModeAuto {
		t.Errorf("mode after reset = %v", c.Mode())
	}
	if c.Accept(old) {
		t.Error("token from previous session accepted")
	}
	if !c.Accept(token) {
		t.Error("reset token rejected")
	}
}

func TestInvalidate(t *testing.T) {
	c := New()
	token := c.Begin()
	c.Invalidate()
	if c.Accept(token) {
		t.Error("token accepted after Invalidate")
	}
	if c.Mode() != types.ModeAuto {
		t.Error("Invalidate changed mode")
	}
}
