package lumahost

import (
	"fmt"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/xthexder/go-jack"
)

var jackDebug = debuggo.Debug("lumahost:jack")

// initJack opens the JACK client under the plugin's display name and
// captures the sample rate and block size the plugin will be instantiated
// with. The process callback stays a no-op until activateClient.
func (h *Host) initJack(clientName string) error {
	client, err := jack.ClientOpen(clientName, jack.NoStartServer)
	if err != nil {
		return fmt.Errorf("failed to open JACK client: %w", err)
	}
	h.client = client
	h.sampleRate = float64(client.GetSampleRate())
	h.maxBlock = uint32(client.GetBufferSize())
	client.SetProcessCallback(h.process)

	jackDebug("JACK client %q open (sample rate %.0f Hz, block %d)",
		clientName, h.sampleRate, h.maxBlock)
	return nil
}

func (h *Host) activateClient() error {
	if h.client == nil {
		return fmt.Errorf("JACK client not open")
	}
	if err := h.client.Activate(); err != nil {
		return fmt.Errorf("failed to activate JACK client: %w", err)
	}
	jackDebug("JACK client activated")
	return nil
}

// closeJack unregisters every port and drops the client. Safe to call
// repeatedly and with a client that never activated.
func (h *Host) closeJack() {
	if h.client == nil {
		return
	}
	for _, p := range h.ports {
		if p.jackPort != nil {
			h.client.PortUnregister(p.jackPort)
			p.jackPort = nil
		}
	}
	h.client.Deactivate()
	h.client.Close()
	h.client = nil
	jackDebug("JACK client closed")
}
