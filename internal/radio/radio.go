// Package radio defines the contract between the device stack and a LoRa
// radio driver. The stack registers its interrupt handlers through Init;
// the driver invokes them from interrupt context, so handlers must only
// marshal work onto the event queue.
package radio

// Events holds the callback edges of a half-duplex LoRa radio.
type Events struct {
	TXDone    func()
	TXTimeout func()
	RXDone    func(payload []byte, rssi int16, snr int8)
	RXTimeout func()
	RXError   func()
}

// Driver is the minimal radio driver surface the stack depends on. Channel
// selection, modulation parameters and the actual SPI I/O are owned by the
// lower MAC and the driver implementation.
type Driver interface {
	// Init registers the radio event callbacks. It must be called before
	// any radio operation is started.
	Init(events *Events)
}
