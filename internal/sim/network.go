package sim

import (
	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/lorawan"
)

// Downlink describes one frame the simulated network sends in response to an
// uplink.
type Downlink struct {
	Port           uint8
	Data           []byte
	Type           mac.McpsType
	Window         mac.RXSlot
	FPending       bool
	ScheduleUplink bool
	ForceRejoin    *ForceRejoin
}

// ForceRejoin describes a ForceRejoinReq carried by a downlink.
type ForceRejoin struct {
	RejoinType lorawan.JoinType
	Period     uint8
	MaxRetries uint8
	DataRate   uint8
}

// Network scripts the behavior of the simulated network server. Tests and
// the simulator mutate it between dispatch cycles; it carries no locking of
// its own.
type Network struct {
	// ServerVersion is the MAC version negotiated at join time.
	ServerVersion mac.Version

	// JoinAcceptOnAttempt accepts the nth join attempt (1-based); zero
	// never accepts.
	JoinAcceptOnAttempt int

	// JoinWindow is the RX window carrying the join-accept.
	JoinWindow mac.RXSlot

	// JoinCryptoFail answers the accepted join attempt with a frame that
	// fails MIC / key derivation.
	JoinCryptoFail bool

	// AckOnAttempt acknowledges the nth transmission of a confirmed
	// uplink (1-based); zero never acknowledges.
	AckOnAttempt int

	// AckWindow is the RX window carrying the ack.
	AckWindow mac.RXSlot

	// Downlinks are delivered one per uplink cycle.
	Downlinks []Downlink

	// ScheduleFail makes the deferred transmission fail at backoff
	// expiry (data-rate / payload-size conflict).
	ScheduleFail bool

	// TXFail makes the radio fail the transmission (tx_timeout edge).
	TXFail bool

	// GPSTime is the network GPS clock at simulation tick zero. It backs
	// DeviceTimeAns answers and beacon timestamps.
	GPSTime gps.Millis

	// AnswerDeviceTime enables DeviceTimeAns on uplinks staging a
	// device-time request.
	AnswerDeviceTime bool

	// LinkCheckMargin / LinkCheckGateways back the LinkCheckAns sent on
	// uplinks staging a link-check request.
	LinkCheckMargin   uint8
	LinkCheckGateways uint8

	// BeaconsAvailable enables the beacon broadcast.
	BeaconsAvailable bool

	// BeaconsSuppressed mutes the beacon broadcast without disabling the
	// tracker; the device observes beacon misses.
	BeaconsSuppressed bool

	// AcceptDeviceMode answers a DeviceModeInd with a DeviceModeConf
	// confirming the requested class; when false the current class is
	// echoed instead.
	AcceptDeviceMode bool
}

// NewNetwork returns a network with defaults: joins and confirmed uplinks
// succeed on the first attempt through RX1, the server speaks 1.0.3.
func NewNetwork() *Network {
	return &Network{
		ServerVersion:       mac.LW103,
		JoinAcceptOnAttempt: 1,
		JoinWindow:          mac.RXSlot1,
		AckOnAttempt:        1,
		AckWindow:           mac.RXSlot1,
		AnswerDeviceTime:    true,
		LinkCheckMargin:     10,
		LinkCheckGateways:   1,
		AcceptDeviceMode:    true,
	}
}

// popDownlink removes and returns the next queued downlink for the given
// window.
func (n *Network) popDownlink(window mac.RXSlot) *Downlink {
	for i := range n.Downlinks {
		w := n.Downlinks[i].Window
		if w == mac.RXSlotNone {
			w = mac.RXSlot1
		}
		if w == window {
			dl := n.Downlinks[i]
			n.Downlinks = append(n.Downlinks[:i], n.Downlinks[i+1:]...)
			return &dl
		}
	}
	return nil
}
