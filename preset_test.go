package lumahost

import (
	"errors"
	"testing"
)

func presetHost(restore func(uri string, set func(string, float32)) error) (*Host, *fakePlugin) {
	plug := &fakePlugin{
		uri:  "urn:test:presetable",
		name: "Presetable",
		dsp:  newFakeDSP(),
		infos: []PortInfo{
			{Index: 0, Symbol: "gain", Control: true, Input: true, Default: 1.0},
			{Index: 1, Symbol: "tone", Control: true, Input: true, Default: 0.5},
			{Index: 2, Symbol: "out", Audio: true},
		},
		restore: restore,
		presets: []PresetInfo{
			{URI: "urn:test:presetable#bright", Label: "Bright"},
			{URI: "urn:test:presetable#dark", Label: "Dark"},
		},
	}
	return newTestHost(plug), plug
}

// TestApplyPresetSetsControlsBySymbol covers S5: restored values land in
// the matching control ports and the UI is flagged for a re-broadcast.
func TestApplyPresetSetsControlsBySymbol(t *testing.T) {
	h, _ := presetHost(func(uri string, set func(string, float32)) error {
		set("gain", 0.25)
		set("tone", 0.75)
		set("does_not_exist", 9.9)
		return nil
	})

	if err := h.ApplyPreset("urn:test:presetable#bright", "Bright"); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}

	if got := h.ports[0].ControlValue(); got != 0.25 {
		t.Fatalf("gain = %v, want 0.25", got)
	}
	if got := h.ports[1].ControlValue(); got != 0.75 {
		t.Fatalf("tone = %v, want 0.75", got)
	}
	if !h.uiNeedsControlUpdate.Load() {
		t.Fatal("ui_needs_control_update not set")
	}
	if h.uiNeedsInitialUpdate.Load() {
		t.Fatal("ui_needs_initial_update still set")
	}
}

// TestApplyPresetFailureFallsBackToDefaults reports the error and
// schedules the initial-defaults broadcast instead.
func TestApplyPresetFailureFallsBackToDefaults(t *testing.T) {
	h, _ := presetHost(func(uri string, set func(string, float32)) error {
		return errors.New("preset not found")
	})

	if err := h.ApplyPreset("urn:test:presetable#missing", "Missing"); err == nil {
		t.Fatal("ApplyPreset succeeded on a failing restore")
	}
	if !h.uiNeedsInitialUpdate.Load() {
		t.Fatal("ui_needs_initial_update not set after failure")
	}
	if h.uiNeedsControlUpdate.Load() {
		t.Fatal("ui_needs_control_update set after failure")
	}
}

// TestPresetsDelegatesToCatalogue returns the plugin's sorted preset
// list.
func TestPresetsDelegatesToCatalogue(t *testing.T) {
	h, plug := presetHost(nil)
	presets, err := h.Presets()
	if err != nil {
		t.Fatalf("Presets: %v", err)
	}
	if len(presets) != len(plug.presets) {
		t.Fatalf("got %d presets, want %d", len(presets), len(plug.presets))
	}
	if presets[0].Label != "Bright" || presets[1].Label != "Dark" {
		t.Fatalf("presets = %+v", presets)
	}
}

// TestWindowTitleCarriesPresetLabel checks the label is remembered for
// the window title built at UI init.
func TestWindowTitleCarriesPresetLabel(t *testing.T) {
	h, _ := presetHost(func(uri string, set func(string, float32)) error { return nil })
	if err := h.ApplyPreset("urn:test:presetable#dark", "Dark"); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if h.presetLabel != "Dark" || h.presetURI != "urn:test:presetable#dark" {
		t.Fatalf("preset identity = %q %q", h.presetURI, h.presetLabel)
	}
}
