package lumahost

import (
	"fmt"

	"github.com/GeoffreyPlitt/debuggo"
)

var presetDebug = debuggo.Debug("lumahost:preset")

// Presets lists the plugin's catalogued presets, sorted by label.
func (h *Host) Presets() ([]PresetInfo, error) {
	return h.plugin.Presets()
}

// ApplyPreset restores the named preset into the control ports and flags
// the UI loop to re-broadcast the input control values. On failure the
// host keeps running with defaults and schedules an initial-defaults
// broadcast instead.
func (h *Host) ApplyPreset(uri, label string) error {
	h.presetURI = uri
	h.presetLabel = label

	if err := h.plugin.RestorePreset(uri, h.setPortValue); err != nil {
		h.errh.HandleError(fmt.Errorf("failed to load preset %s: %w", uri, err))
		h.uiNeedsInitialUpdate.Store(true)
		return err
	}
	presetDebug("applied preset %q (%s)", label, uri)

	h.uiNeedsControlUpdate.Store(true)
	h.uiNeedsInitialUpdate.Store(false)
	return nil
}

// setPortValue is the state-restore callback: preset values land in the
// control port whose symbol matches.
func (h *Host) setPortValue(symbol string, value float32) {
	for _, p := range h.ports {
		if !p.Info.Control {
			continue
		}
		if p.Info.Symbol == symbol {
			p.setControl(value)
			return
		}
	}
}
