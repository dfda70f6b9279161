// Package models holds the shared enumerations and records of the device
// stack: status codes, application events, message flags, device classes,
// metadata records and activation parameters.
package models

import (
	"fmt"
	"time"

	"github.com/brocaar/lorawan"
)

// Status defines the status codes surfaced to the application. All stack and
// facade operations report one of these values; StatusOK is the zero value.
type Status int16

// Available status codes.
const (
	StatusOK                   Status = 0
	StatusWouldBlock           Status = -1001
	StatusAlreadyConnected     Status = -1002
	StatusBusy                 Status = -1003
	StatusNoActiveSessions     Status = -1004
	StatusNoOp                 Status = -1006
	StatusConnectInProgress    Status = -1007
	StatusNotInitialized       Status = -1008
	StatusNoNetworkJoined      Status = -1009
	StatusDeviceOff            Status = -1010
	StatusUnsupported          Status = -1011
	StatusServiceUnknown       Status = -1012
	StatusParameterInvalid     Status = -1013
	StatusFrequencyInvalid     Status = -1014
	StatusDatarateInvalid      Status = -1015
	StatusFreqAndDRInvalid     Status = -1016
	StatusLengthError          Status = -1017
	StatusNoBeaconFound        Status = -1018
	StatusPortInvalid          Status = -1019
	StatusMetadataNotAvailable Status = -1020
)

var statusNames = map[Status]string{
	StatusOK:                   "OK",
	StatusWouldBlock:           "WOULD_BLOCK",
	StatusAlreadyConnected:     "ALREADY_CONNECTED",
	StatusBusy:                 "BUSY",
	StatusNoActiveSessions:     "NO_ACTIVE_SESSIONS",
	StatusNoOp:                 "NO_OP",
	StatusConnectInProgress:    "CONNECT_IN_PROGRESS",
	StatusNotInitialized:       "NOT_INITIALIZED",
	StatusNoNetworkJoined:      "NO_NETWORK_JOINED",
	StatusDeviceOff:            "DEVICE_OFF",
	StatusUnsupported:          "UNSUPPORTED",
	StatusServiceUnknown:       "SERVICE_UNKNOWN",
	StatusParameterInvalid:     "PARAMETER_INVALID",
	StatusFrequencyInvalid:     "FREQUENCY_INVALID",
	StatusDatarateInvalid:      "DATARATE_INVALID",
	StatusFreqAndDRInvalid:     "FREQ_AND_DR_INVALID",
	StatusLengthError:          "LENGTH_ERROR",
	StatusNoBeaconFound:        "NO_BEACON_FOUND",
	StatusPortInvalid:          "PORT_INVALID",
	StatusMetadataNotAvailable: "METADATA_NOT_AVAILABLE",
}

// String implements the Stringer interface.
func (s Status) String() string {
	if v, ok := statusNames[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN_STATUS(%d)", int16(s))
}

// Error implements the error interface so that non-OK statuses can be
// propagated and logged as plain Go errors.
func (s Status) Error() string {
	return s.String()
}

// Event defines the events delivered to the application callback.
type Event int

// Available events.
const (
	EventConnected Event = iota
	EventDisconnected
	EventTxDone
	EventTxTimeout
	EventTxError
	EventTxCryptoError
	EventTxSchedulingError
	EventRxDone
	EventRxTimeout
	EventRxError
	EventJoinFailure
	EventUplinkRequired
	EventAutomaticUplinkError
	EventClassChanged
	EventServerAcceptedClassInUse
	EventServerDoesNotSupportClassInUse
	EventDeviceTimeSynched
	EventPingSlotInfoSynched
	EventBeaconFound
	EventBeaconNotFound
	EventBeaconLock
	EventBeaconMiss
	EventSwitchClassBToA
	EventCryptoError
)

var eventNames = map[Event]string{
	EventConnected:                      "CONNECTED",
	EventDisconnected:                   "DISCONNECTED",
	EventTxDone:                         "TX_DONE",
	EventTxTimeout:                      "TX_TIMEOUT",
	EventTxError:                        "TX_ERROR",
	EventTxCryptoError:                  "TX_CRYPTO_ERROR",
	EventTxSchedulingError:              "TX_SCHEDULING_ERROR",
	EventRxDone:                         "RX_DONE",
	EventRxTimeout:                      "RX_TIMEOUT",
	EventRxError:                        "RX_ERROR",
	EventJoinFailure:                    "JOIN_FAILURE",
	EventUplinkRequired:                 "UPLINK_REQUIRED",
	EventAutomaticUplinkError:           "AUTOMATIC_UPLINK_ERROR",
	EventClassChanged:                   "CLASS_CHANGED",
	EventServerAcceptedClassInUse:       "SERVER_ACCEPTED_CLASS_IN_USE",
	EventServerDoesNotSupportClassInUse: "SERVER_DOES_NOT_SUPPORT_CLASS_IN_USE",
	EventDeviceTimeSynched:              "DEVICE_TIME_SYNCHED",
	EventPingSlotInfoSynched:            "PING_SLOT_INFO_SYNCHED",
	EventBeaconFound:                    "BEACON_FOUND",
	EventBeaconNotFound:                 "BEACON_NOT_FOUND",
	EventBeaconLock:                     "BEACON_LOCK",
	EventBeaconMiss:                     "BEACON_MISS",
	EventSwitchClassBToA:                "SWITCH_CLASS_B_TO_A",
	EventCryptoError:                    "CRYPTO_ERROR",
}

// String implements the Stringer interface.
func (e Event) String() string {
	if v, ok := eventNames[e]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN_EVENT(%d)", int(e))
}

// MsgFlag defines the message-type flags of the send and receive API. The
// flags within FlagMask are mutually exclusive for uplinks; FlagMulticast is
// only valid for downlinks.
type MsgFlag int

// Available message flags.
const (
	FlagUnconfirmed MsgFlag = 1 << iota
	FlagConfirmed
	FlagMulticast
	FlagProprietary

	// FlagMask masks the message-type bits of a flags value.
	FlagMask MsgFlag = 0x0f
)

// DeviceClass defines the LoRaWAN device class.
type DeviceClass uint8

// Available device classes.
const (
	ClassA DeviceClass = iota
	ClassB
	ClassC
)

// String implements the Stringer interface.
func (c DeviceClass) String() string {
	switch c {
	case ClassA:
		return "A"
	case ClassB:
		return "B"
	case ClassC:
		return "C"
	default:
		return fmt.Sprintf("UNKNOWN_CLASS(%d)", uint8(c))
	}
}

// TXMetadata holds the metadata of the last transmission. Stale is set on
// construction and whenever the record has been read; it is cleared when
// fresh data is written.
type TXMetadata struct {
	Stale       bool
	Channel     uint8
	DataRate    uint8
	TXPower     int8
	TXTimeOnAir time.Duration
	NbRetries   uint8
}

// RXMetadata holds the metadata of the last reception.
type RXMetadata struct {
	Stale       bool
	RXDataRate  uint8
	RSSI        int16
	SNR         int8
	Channel     uint8
	RXTimeOnAir time.Duration
}

// ConnectionType defines the activation type.
type ConnectionType uint8

// Available connection / activation types.
const (
	ConnectionOTAA ConnectionType = iota
	ConnectionABP
)

// OTAAParams holds the Over-The-Air-Activation credentials.
type OTAAParams struct {
	DevEUI   lorawan.EUI64
	JoinEUI  lorawan.EUI64
	AppKey   lorawan.AES128Key
	NwkKey   lorawan.AES128Key
	NbTrials uint8
}

// ABPParams holds the Activation-By-Personalization session material.
type ABPParams struct {
	DevAddr     lorawan.DevAddr
	NwkSKey     lorawan.AES128Key
	AppSKey     lorawan.AES128Key
	SNwkSIntKey lorawan.AES128Key
	NwkSEncKey  lorawan.AES128Key
}

// ConnectParams holds the parameters of a parameterised connect call.
type ConnectParams struct {
	Type ConnectionType
	OTAA OTAAParams
	ABP  ABPParams
}
