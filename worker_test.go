package lumahost

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeWorkIface scripts a plugin worker extension: every request is
// answered with the frames queued in replies.
type fakeWorkIface struct {
	mu        sync.Mutex
	requests  [][]byte
	delivered [][]byte
	replies   [][]byte
}

func (f *fakeWorkIface) Work(respond RespondFunc, data []byte) error {
	f.mu.Lock()
	f.requests = append(f.requests, append([]byte(nil), data...))
	replies := f.replies
	f.mu.Unlock()

	for _, r := range replies {
		if err := respond(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeWorkIface) WorkResponse(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, append([]byte(nil), data...))
	return nil
}

func (f *fakeWorkIface) snapshot() (requests, delivered [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.requests...), append([][]byte(nil), f.delivered...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

// TestWorkerRoundTrip schedules one request and drains the response the
// way the end of an audio cycle would (S4).
func TestWorkerRoundTrip(t *testing.T) {
	iface := &fakeWorkIface{replies: [][]byte{[]byte("ZZZZ")}}
	w := NewWorker(iface)
	w.Start()
	defer w.Stop()

	if err := w.ScheduleWork([]byte("ABCDEFGH")); err != nil {
		t.Fatalf("ScheduleWork: %v", err)
	}

	waitFor(t, func() bool {
		requests, _ := iface.snapshot()
		return len(requests) == 1
	})
	requests, _ := iface.snapshot()
	if !bytes.Equal(requests[0], []byte("ABCDEFGH")) {
		t.Fatalf("worker received %q, want ABCDEFGH", requests[0])
	}

	// The response may land any cycle at or after the scheduling one.
	waitFor(t, func() bool {
		w.DrainResponses()
		_, delivered := iface.snapshot()
		return len(delivered) == 1
	})
	_, delivered := iface.snapshot()
	if !bytes.Equal(delivered[0], []byte("ZZZZ")) {
		t.Fatalf("work_response got %q, want ZZZZ", delivered[0])
	}

	// Exactly once: further drains deliver nothing new.
	w.DrainResponses()
	if _, delivered := iface.snapshot(); len(delivered) != 1 {
		t.Fatalf("response delivered %d times", len(delivered))
	}
}

// TestWorkerResponseOrdering checks responses arrive in the order the
// plugin produced them, across multiple requests.
func TestWorkerResponseOrdering(t *testing.T) {
	iface := &fakeWorkIface{replies: [][]byte{[]byte("r0"), []byte("r1"), []byte("r2")}}
	w := NewWorker(iface)
	w.Start()
	defer w.Stop()

	const jobs = 5
	for i := 0; i < jobs; i++ {
		if err := w.ScheduleWork([]byte(fmt.Sprintf("job%d", i))); err != nil {
			t.Fatalf("ScheduleWork(%d): %v", i, err)
		}
	}

	waitFor(t, func() bool {
		w.DrainResponses()
		_, delivered := iface.snapshot()
		return len(delivered) == jobs*3
	})

	_, delivered := iface.snapshot()
	for i, d := range delivered {
		want := fmt.Sprintf("r%d", i%3)
		if string(d) != want {
			t.Fatalf("response %d = %q, want %q", i, d, want)
		}
	}
}

// TestWorkerZeroResponses accepts work that never responds.
func TestWorkerZeroResponses(t *testing.T) {
	iface := &fakeWorkIface{}
	w := NewWorker(iface)
	w.Start()
	defer w.Stop()

	if err := w.ScheduleWork([]byte("fire-and-forget")); err != nil {
		t.Fatalf("ScheduleWork: %v", err)
	}
	waitFor(t, func() bool {
		requests, _ := iface.snapshot()
		return len(requests) == 1
	})
	w.DrainResponses()
	if _, delivered := iface.snapshot(); len(delivered) != 0 {
		t.Fatalf("unexpected responses: %d", len(delivered))
	}
}

// TestScheduleWorkNoSpace schedules a request larger than the request
// ring and expects ErrNoSpace rather than blocking or a partial write.
func TestScheduleWorkNoSpace(t *testing.T) {
	iface := &fakeWorkIface{}
	w := NewWorker(iface)
	w.Start()
	defer w.Stop()

	// A request larger than the ring can never be accepted.
	if err := w.ScheduleWork(make([]byte, workerRingSize)); err != ErrNoSpace {
		t.Fatalf("oversized request: err = %v, want ErrNoSpace", err)
	}
}

// TestScheduleWorkAfterStop is refused outright.
func TestScheduleWorkAfterStop(t *testing.T) {
	w := NewWorker(&fakeWorkIface{})
	w.Start()
	w.Stop()
	if err := w.ScheduleWork([]byte("late")); err != ErrNoSpace {
		t.Fatalf("err = %v, want ErrNoSpace", err)
	}
}

// TestWorkerStopIsIdempotent joins once and tolerates repeats.
func TestWorkerStopIsIdempotent(t *testing.T) {
	w := NewWorker(&fakeWorkIface{})
	w.Start()
	w.Stop()
	w.Stop()
}

// TestWorkerRoundTripThroughHost drives the full S4 path: the plugin
// schedules from inside run, the worker answers, and a later cycle
// delivers the response on the (test) audio thread.
func TestWorkerRoundTripThroughHost(t *testing.T) {
	iface := &fakeWorkIface{replies: [][]byte{[]byte("ZZZZ")}}
	dsp := newFakeDSP()
	dsp.worker = iface
	plug := &fakePlugin{
		uri:   "urn:test:worker",
		name:  "Worker",
		dsp:   dsp,
		infos: []PortInfo{{Index: 0, Symbol: "out", Audio: true}},
	}

	scheduled := false
	dsp.onRun = func(d *fakeDSP, nframes uint32) {
		if !scheduled {
			scheduled = true
			if err := plug.lastOpts.ScheduleWork([]byte("ABCDEFGH")); err != nil {
				t.Errorf("schedule from run: %v", err)
			}
		}
	}

	h := newTestHost(plug)
	defer h.Close()

	waitFor(t, func() bool {
		h.runCycle(64)
		_, delivered := iface.snapshot()
		return len(delivered) == 1
	})

	requests, delivered := iface.snapshot()
	if len(requests) != 1 || !bytes.Equal(requests[0], []byte("ABCDEFGH")) {
		t.Fatalf("worker requests = %q", requests)
	}
	if !bytes.Equal(delivered[0], []byte("ZZZZ")) {
		t.Fatalf("delivered = %q, want ZZZZ", delivered[0])
	}
}
