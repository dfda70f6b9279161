// Package sim implements an in-process lower MAC and radio with a
// scriptable network model. It backs the stack scenario tests and the
// simulator mode of the command-line binary.
package sim

import (
	"sync"
	"time"

	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/radio"
)

// frameAirtime is the simulated time-on-air of every frame.
const frameAirtime = 50 * time.Millisecond

// Radio is the simulated radio. The simulated MAC arms it; it raises the
// interrupt edges registered by the stack.
type Radio struct {
	mux     sync.Mutex
	queue   *events.Queue
	events  *radio.Events
	txCount int
}

// NewRadio creates a simulated radio on the given queue.
func NewRadio(queue *events.Queue) *Radio {
	return &Radio{queue: queue}
}

// Init implements the radio.Driver interface.
func (r *Radio) Init(events *radio.Events) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.events = events
}

// TXCount returns the number of transmissions the radio performed.
func (r *Radio) TXCount() int {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.txCount
}

// transmit starts a transmission; the tx_done edge fires after the frame
// airtime.
func (r *Radio) transmit() {
	r.mux.Lock()
	r.txCount++
	r.mux.Unlock()

	r.queue.PostIn(frameAirtime, func() {
		r.events.TXDone()
	})
}

// failTransmit raises the tx_timeout edge instead of transmitting.
func (r *Radio) failTransmit() {
	r.queue.PostIn(frameAirtime, func() {
		r.events.TXTimeout()
	})
}

// deliver raises the rx_done edge with the given frame.
func (r *Radio) deliver(payload []byte, rssi int16, snr int8) {
	r.events.RXDone(payload, rssi, snr)
}

// timeout raises the rx_timeout edge.
func (r *Radio) timeout() {
	r.events.RXTimeout()
}

// rxError raises the rx_error edge (CRC failure).
func (r *Radio) rxError() {
	r.events.RXError()
}
