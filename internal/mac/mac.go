// Package mac defines the contract between the stack controller and the
// lower MAC (frame codec, crypto, duty cycle, channel selection, ADR and the
// RX window scheduler). The stack consumes the lower MAC exclusively through
// the Ops interface; internal/sim provides the in-process implementation
// used by the scenario tests and the simulator binary.
package mac

import (
	"fmt"
	"time"

	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/lorawan"
)

// PHYMaxPayload is the size of the RX staging buffer shared with the radio.
const PHYMaxPayload = 255

// Version defines the LoRaWAN MAC version the device operates.
type Version uint8

// Available MAC versions.
const (
	LW102 Version = iota
	LW103
	LW11
)

// ParseVersion parses a MAC version string (e.g. "1.0.3").
func ParseVersion(s string) (Version, error) {
	switch s {
	case "1.0.2":
		return LW102, nil
	case "1.0.3":
		return LW103, nil
	case "1.1":
		return LW11, nil
	default:
		return LW103, fmt.Errorf("unknown mac version: %s", s)
	}
}

// String implements the Stringer interface.
func (v Version) String() string {
	switch v {
	case LW102:
		return "1.0.2"
	case LW103:
		return "1.0.3"
	case LW11:
		return "1.1"
	default:
		return fmt.Sprintf("UNKNOWN_VERSION(%d)", uint8(v))
	}
}

// RXSlot identifies the receive window a reception (or its absence) belongs
// to.
type RXSlot uint8

// Available RX slots.
const (
	RXSlotNone RXSlot = iota
	RXSlot1
	RXSlot2
	RXSlotClassC
	RXSlotBeacon
	RXSlotUnicastPingSlot
	RXSlotMulticastPingSlot
)

// McpsType defines the MCPS request / indication type.
type McpsType uint8

// Available MCPS types.
const (
	McpsUnconfirmed McpsType = iota
	McpsConfirmed
	McpsMulticast
	McpsProprietary
)

// InfoStatus defines the status of an MCPS or MLME confirm / indication.
type InfoStatus uint8

// Available info statuses.
const (
	InfoStatusOK InfoStatus = iota
	InfoStatusError
	InfoStatusTXTimeout
	InfoStatusRX1Timeout
	InfoStatusRX2Timeout
	InfoStatusRXError
	InfoStatusCryptoFail
	InfoStatusTXDRPayloadSizeError
	InfoStatusDownlinkRepeated
	InfoStatusBeaconNotFound
)

// McpsConfirm is the confirmation record of the ongoing MCPS request.
type McpsConfirm struct {
	Status         InfoStatus
	Type           McpsType
	Channel        uint8
	DataRate       uint8
	TXPower        int8
	TXTimeOnAir    time.Duration
	NbRetries      uint8
	AckReceived    bool
	ULFrameCounter uint32
}

// McpsIndication is the indication record of a processed downlink.
type McpsIndication struct {
	Pending        bool
	Status         InfoStatus
	Type           McpsType
	Port           uint8
	Buffer         []byte
	DataReceived   bool
	AckReceived    bool
	FPending       bool
	DLFrameCounter uint32
	RXDataRate     uint8
	RSSI           int16
	SNR            int8
	Channel        uint8
	RXTimeOnAir    time.Duration
}

// MlmeType defines the MLME confirm / indication type.
type MlmeType uint8

// Available MLME types.
const (
	MlmeJoinAccept MlmeType = iota
	MlmeLinkCheck
	MlmeReset
	MlmeRekey
	MlmeDeviceMode
	MlmeForceRejoin
	MlmePingSlotInfo
	MlmeBeaconAcquisition
	MlmeScheduleUplink
)

// MlmeIndication is the indication record of a management request pushed by
// the network.
type MlmeIndication struct {
	Pending bool
	Type    MlmeType
}

// MlmeConfirm is the confirmation record of a management exchange.
type MlmeConfirm struct {
	Type   MlmeType
	Status InfoStatus

	// MlmeLinkCheck
	DemodMargin uint8
	NbGateways  uint8

	// MlmeDeviceMode
	Class models.DeviceClass

	// MlmeForceRejoin
	RejoinType lorawan.JoinType
	Period     uint8
	MaxRetries uint8
	DataRate   uint8
}

// BeaconStatus defines the state of the beacon tracker for a beacon slot.
type BeaconStatus uint8

// Available beacon statuses.
const (
	BeaconAcquisitionFailed BeaconStatus = iota
	BeaconAcquisitionSuccess
	BeaconLock
	BeaconMiss
)

// Beacon holds the content of a received beacon frame.
type Beacon struct {
	// Time is the beacon timestamp in seconds since GPS epoch.
	Time       uint32
	GwSpecific [7]byte
	Frequency  uint32
	DataRate   uint8
	RSSI       int16
	SNR        int8
}

// GPSTime returns the beacon timestamp as GPS milliseconds.
func (b Beacon) GPSTime() gps.Millis {
	return gps.Millis(b.Time) * 1000
}

// Channel describes one entry of a channel plan.
type Channel struct {
	ID        uint8
	Frequency uint32
	DRMin     uint8
	DRMax     uint8
}

// ChannelPlan is a set of channels.
type ChannelPlan []Channel

// MlmeConfirmHandler handles an MLME confirm produced while processing a
// reception.
type MlmeConfirmHandler func(MlmeConfirm)

// BeaconHandler handles a beacon tracker status change. The beacon pointer
// is nil unless a beacon frame was received.
type BeaconHandler func(BeaconStatus, *Beacon)

// Ops is the lower-MAC surface the stack controller drives. Methods are
// invoked from the event-queue goroutine and from application calls made
// through the stack facade.
type Ops interface {
	// Initialize binds the MAC to the event queue. schedulingFailure is
	// invoked when a deferred (backoff) transmission cannot be scheduled.
	Initialize(queue *events.Queue, schedulingFailure func()) models.Status
	// Disconnect stops all MAC activity and puts the radio to sleep.
	Disconnect()

	// Join management.
	PrepareJoin(params *models.ConnectParams, otaa bool) models.Status
	Join(otaa bool) models.Status
	ContinueJoining() bool
	NwkJoined() bool
	Rejoin(rejoinType lorawan.JoinType, forced bool, dataRate uint8)
	RejoinParameters() (maxTime, maxCount uint32)

	// Transmit pipeline.
	PrepareOngoingTX(port uint8, data []byte, flags models.MsgFlag, numRetries uint8) int16
	SendOngoingTX() models.Status
	ContinueSending() bool
	ClearTXPipe() models.Status
	SetTXOngoing(ongoing bool)
	TXOngoing() bool
	ResetOngoingTX()
	PostProcessMcpsReq()

	// Radio event post-processing and RX records.
	OnRadioTXDone(ts time.Duration)
	OnRadioTXTimeout()
	OnRadioRXDone(payload []byte, rssi int16, snr int8, ts time.Duration, mlmeConfirm MlmeConfirmHandler)
	OnRadioRXTimeout(isTimeout bool)
	McpsConfirmation() *McpsConfirm
	McpsIndication() *McpsIndication
	MlmeIndication() *MlmeIndication
	PostProcessMcpsInd()
	PostProcessMlmeInd()
	CurrentSlot() RXSlot

	// Sticky MAC command staging.
	SetupLinkCheckRequest()
	SetupDeviceTimeRequest(handler func(gps.Millis))
	AddPingSlotInfoReq(periodicity uint8) models.Status
	SetupResetIndication()
	SetupRekeyIndication()
	SetupDeviceModeIndication(class models.DeviceClass)

	// Class, rate and channel control.
	DeviceClass() models.DeviceClass
	SetDeviceClass(class models.DeviceClass, ackExpiry func()) models.Status
	ServerType() Version
	ADRAckLimit() uint16
	QOSLevel() uint8
	PrevQOSLevel() uint8
	EnableADR(enabled bool)
	SetChannelDataRate(dataRate uint8) models.Status
	AddChannelPlan(plan ChannelPlan) models.Status
	RemoveChannelPlan() models.Status
	RemoveChannel(id uint8) models.Status
	ChannelPlan() (ChannelPlan, models.Status)
	BackoffTime() (time.Duration, bool)

	// Class-B beacon acquisition and tracking.
	EnableBeaconAcquisition(handler BeaconHandler) models.Status
	LastRXBeacon() (Beacon, models.Status)
	SetBatteryLevelProvider(provider func() uint8)
}
