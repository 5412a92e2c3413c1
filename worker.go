package lumahost

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/GeoffreyPlitt/debuggo"

	"github.com/shaban/lumahost/ringbuf"
)

var workerDebug = debuggo.Debug("lumahost:worker")

// ErrNoSpace reports that a bounded queue could not accept a message.
// Plugins receiving it from schedule-work are expected to retry or
// degrade.
var ErrNoSpace = errors.New("no space in ring buffer")

const workerRingSize = 8192

// Worker services plugin-scheduled work on a background goroutine. The
// audio thread is the sole writer of the request ring and the sole reader
// of the response ring; the worker goroutine is the sole reader of
// requests and the sole writer of responses.
type Worker struct {
	requests  *ringbuf.Ring
	responses *ringbuf.Ring
	iface     WorkerInterface

	running atomic.Bool
	done    chan struct{}

	errh ErrorHandler

	workScratch []byte // worker goroutine only
	respScratch []byte // audio thread only
}

// NewWorker creates the rings and scratch space for one plugin's worker
// interface. Start must be called before work can be scheduled.
func NewWorker(iface WorkerInterface) *Worker {
	return &Worker{
		requests:    ringbuf.New(workerRingSize),
		responses:   ringbuf.New(workerRingSize),
		iface:       iface,
		done:        make(chan struct{}),
		errh:        DefaultErrorHandler{},
		workScratch: make([]byte, workerRingSize),
		respScratch: make([]byte, workerRingSize),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
}

// ScheduleWork frames a plugin request into the request ring. Called on
// the audio thread; the only failure mode is a full ring.
func (w *Worker) ScheduleWork(data []byte) error {
	if !w.running.Load() || w.requests == nil {
		return ErrNoSpace
	}
	if !w.requests.WriteFrame(data) {
		return ErrNoSpace
	}
	return nil
}

func (w *Worker) loop() {
	defer close(w.done)
	for w.running.Load() {
		size, ok := w.requests.PeekSize()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if w.requests.ReadSpace() < 4+size {
			// The producer is mid-frame; the payload follows immediately.
			continue
		}
		frame := w.requests.ReadFrame(w.workScratch)
		if frame == nil {
			continue
		}
		if err := w.iface.Work(w.respond, frame); err != nil {
			w.errh.HandleError(fmt.Errorf("worker: %w", err))
		}
	}
}

// respond is handed to the plugin's work function; it may be called zero
// or more times per request, each call queueing one response frame.
func (w *Worker) respond(data []byte) error {
	if !w.responses.WriteFrame(data) {
		return ErrNoSpace
	}
	return nil
}

// DrainResponses delivers every complete response frame to the plugin's
// work_response on the calling (audio) thread, in the order produced.
func (w *Worker) DrainResponses() {
	for {
		frame := w.responses.ReadFrame(w.respScratch)
		if frame == nil {
			return
		}
		// Audio-path errors never propagate; a failed delivery is a drop.
		_ = w.iface.WorkResponse(frame)
	}
}

// Stop clears the running flag, joins the worker goroutine and dismantles
// the rings so no further requests are accepted. In-flight work completes
// first. Idempotent.
func (w *Worker) Stop() {
	if !w.running.Swap(false) {
		return
	}
	<-w.done
	w.requests = nil
	w.responses = nil
	workerDebug("worker stopped")
}
