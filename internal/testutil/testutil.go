// Package testutil carries small helpers shared by the host's tests.
package testutil

import (
	"math"
	"os"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// Sine renders n samples of a sine wave at the given frequency and
// sample rate.
func Sine(freq, rate float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / rate))
	}
	return out
}

// NoteOn builds a raw MIDI note-on message.
func NoteOn(channel, key, velocity uint8) []byte {
	return midi.NoteOn(channel, key, velocity)
}

// NoteOff builds a raw MIDI note-off message.
func NoteOff(channel, key uint8) []byte {
	return midi.NoteOff(channel, key)
}
