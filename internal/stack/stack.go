// Package stack implements the LoRaWAN end-device stack controller: the
// activation and session state machine, the transmit and receive pipelines,
// class switching, the beacon lifecycle, the LoRaWAN 1.1 rejoin engine and
// the GPS time reference. The lower MAC is consumed through the mac.Ops
// contract; applications talk to the stack through the Interface facade.
package stack

import (
	"math/rand"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/monitoring"
	"github.com/brocaar/chirpstack-device-stack/internal/radio"
	"github.com/brocaar/lorawan"
)

const (
	invalidPort            = 0xff
	maxConfirmedMsgRetries = 255
	complianceTestingPort  = 224
)

// deviceState is the state of the stack controller. Exactly one state is
// active at a time.
type deviceState uint8

const (
	deviceStateNotInitialized deviceState = iota
	deviceStateIdle
	deviceStateConnecting
	deviceStateJoining
	deviceStateAwaitingJoinAccept
	deviceStateConnected
	deviceStateScheduling
	deviceStateSending
	deviceStateAwaitingAck
	deviceStateReceiving
	deviceStateStatusCheck
	deviceStateShutdown
)

func (s deviceState) String() string {
	switch s {
	case deviceStateNotInitialized:
		return "NOT_INITIALIZED"
	case deviceStateIdle:
		return "IDLE"
	case deviceStateConnecting:
		return "CONNECTING"
	case deviceStateJoining:
		return "JOINING"
	case deviceStateAwaitingJoinAccept:
		return "AWAITING_JOIN_ACCEPT"
	case deviceStateConnected:
		return "CONNECTED"
	case deviceStateScheduling:
		return "SCHEDULING"
	case deviceStateSending:
		return "SENDING"
	case deviceStateAwaitingAck:
		return "AWAITING_ACK"
	case deviceStateReceiving:
		return "RECEIVING"
	case deviceStateStatusCheck:
		return "STATUS_CHECK"
	case deviceStateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// ctrlFlags is the set of transient control flags. The flags are independent
// bits, with one documented exclusion: flagConnectInProgress and
// flagConnected must never be set at the same time.
type ctrlFlags uint32

const (
	flagRetryExhausted ctrlFlags = 1 << iota
	flagMsgReceived
	flagConnected
	flagUsingOTAA
	flagTXDone
	flagConnectInProgress
	flagRejoinInProgress
)

func (f ctrlFlags) has(flag ctrlFlags) bool {
	return f&flag != 0
}

func (f *ctrlFlags) set(flag ctrlFlags) {
	*f |= flag
}

func (f *ctrlFlags) clear(flag ctrlFlags) {
	*f &^= flag
}

// Session holds the activation state of the stack. Frame counters are kept
// in memory for the lifetime of the process; a fresh OTAA activation resets
// them to zero.
type Session struct {
	Activation      models.ConnectionType
	UplinkCounter   uint32
	DownlinkCounter uint32
	Active          bool
}

// Callbacks is the application callback surface. Events is mandatory;
// LinkCheckResp is required before a link-check request can be staged.
type Callbacks struct {
	Events        func(models.Event)
	LinkCheckResp func(demodMargin, nbGateways uint8)
	BatteryLevel  func() uint8
}

// Stack is the stack controller. It is not safe for concurrent use; the
// Interface facade serialises application access, and all event processing
// runs on the event-queue goroutine.
type Stack struct {
	mac   mac.Ops
	queue *events.Queue
	conf  config.DeviceConfig

	version mac.Version
	state   deviceState
	flags   ctrlFlags

	session   Session
	callbacks Callbacks

	txMsg      txMessage
	rxMsg      rxMessage
	txMetadata models.TXMetadata
	rxMetadata models.RXMetadata

	numRetry uint8
	qosCnt   uint8
	appPort  uint8

	linkCheckRequested     bool
	resetIndRequested      bool
	rekeyIndNeeded         bool
	rekeyIndCounter        uint16
	deviceModeIndNeeded    bool
	deviceModeIndOngoing   bool
	newClass               models.DeviceClass
	automaticUplinkOngoing bool
	pingSlotInfoRequested  bool
	pingSlotPeriodicity    uint8
	deviceTimeRequested    bool

	rxPayload      [mac.PHYMaxPayload]byte
	rxPayloadInUse int32
	txTimestamp    time.Duration
	rxTimestamp    time.Duration

	gpsTime *gps.Cache

	rejoinType1SendPeriod time.Duration
	rejoinType1Stamp      time.Duration
	rejoinType0Counter    uint32
	forcedDataRate        uint8
	forcedPeriod          time.Duration
	forcedRetryCount      uint8
	forcedRejoinType      lorawan.JoinType
	forcedCounter         uint8
	forcedTimer           *events.Timer
	rejoinType0Timer      *events.Timer

	lastBeaconRXTime time.Duration
	beaconAcquired   bool

	// jitter produces the forced-rejoin interval jitter; replaceable in
	// tests for determinism.
	jitter func(n int) int
}

// New creates a stack controller on top of the given lower MAC.
func New(ops mac.Ops, conf config.DeviceConfig) *Stack {
	version, err := mac.ParseVersion(conf.MACVersion)
	if err != nil {
		log.WithError(err).Warning("stack: falling back to mac version 1.0.3")
	}

	s := &Stack{
		mac:                   ops,
		conf:                  conf,
		version:               version,
		state:                 deviceStateNotInitialized,
		numRetry:              conf.ConfirmedMsgRetries,
		qosCnt:                1,
		appPort:               invalidPort,
		newClass:              models.ClassA,
		rejoinType1SendPeriod: conf.Rejoin.Type1SendPeriod,
		pingSlotPeriodicity:   conf.ClassB.PingSlotPeriodicity,
		jitter:                rand.Intn,
	}
	s.txMetadata.Stale = true
	s.rxMetadata.Stale = true

	if s.isPortValid(conf.AppPort, false) {
		s.appPort = conf.AppPort
	} else {
		log.WithField("port", conf.AppPort).Error("stack: configured application port is illegal")
	}

	return s
}

// BindRadio registers the stack interrupt handlers with the radio driver.
// The handlers only marshal work onto the event queue.
func (s *Stack) BindRadio(driver radio.Driver) {
	driver.Init(&radio.Events{
		TXDone:    s.txInterruptHandler,
		TXTimeout: s.txTimeoutInterruptHandler,
		RXDone:    s.rxInterruptHandler,
		RXTimeout: s.rxTimeoutInterruptHandler,
		RXError:   s.rxErrorInterruptHandler,
	})
}

// Initialize binds the stack to the event queue and initializes the lower
// MAC.
func (s *Stack) Initialize(queue *events.Queue) models.Status {
	if queue == nil {
		return models.StatusParameterInvalid
	}

	log.Debug("stack: initializing mac layer")
	s.queue = queue
	s.gpsTime = gps.NewCache(queue.Clock())

	return s.stateController(deviceStateIdle)
}

// AddAppCallbacks registers the application callbacks.
func (s *Stack) AddAppCallbacks(callbacks *Callbacks) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if callbacks == nil || callbacks.Events == nil {
		return models.StatusParameterInvalid
	}

	s.callbacks.Events = callbacks.Events

	if callbacks.LinkCheckResp != nil {
		s.callbacks.LinkCheckResp = callbacks.LinkCheckResp
	}

	if callbacks.BatteryLevel != nil {
		s.callbacks.BatteryLevel = callbacks.BatteryLevel
		s.mac.SetBatteryLevelProvider(callbacks.BatteryLevel)
	}

	return models.StatusOK
}

// Connect starts the default-configuration activation.
func (s *Stack) Connect() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if s.flags.has(flagConnectInProgress) {
		return models.StatusBusy
	}

	if s.flags.has(flagConnected) {
		return models.StatusAlreadyConnected
	}

	otaa := s.conf.Activation != "abp"

	if st := s.mac.PrepareJoin(nil, otaa); st != models.StatusOK {
		return st
	}

	return s.handleConnect(otaa)
}

// ConnectWith starts a parameterised activation.
func (s *Stack) ConnectWith(params models.ConnectParams) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if s.flags.has(flagConnectInProgress) {
		return models.StatusBusy
	}

	if s.flags.has(flagConnected) {
		return models.StatusAlreadyConnected
	}

	if params.Type != models.ConnectionOTAA && params.Type != models.ConnectionABP {
		return models.StatusParameterInvalid
	}

	otaa := params.Type == models.ConnectionOTAA

	if st := s.mac.PrepareJoin(&params, otaa); st != models.StatusOK {
		return st
	}

	return s.handleConnect(otaa)
}

func (s *Stack) handleConnect(otaa bool) models.Status {
	s.flags.set(flagConnectInProgress)

	if otaa {
		log.Debug("stack: initiating otaa")

		// Counters are always reset to zero for a fresh OTAA
		// activation.
		s.session.Activation = models.ConnectionOTAA
		s.session.UplinkCounter = 0
		s.session.DownlinkCounter = 0
		s.flags.set(flagUsingOTAA)
	} else {
		// ABP re-activation keeps whatever counters the process has
		// accumulated; there is no non-volatile storage to restore
		// them from.
		if s.version == mac.LW11 {
			s.resetIndRequested = true
		}

		log.WithFields(log.Fields{
			"fcnt_up":   s.session.UplinkCounter,
			"fcnt_down": s.session.DownlinkCounter,
		}).Debug("stack: initiating abp")
		s.session.Activation = models.ConnectionABP
		s.flags.clear(flagUsingOTAA)
	}

	return s.stateController(deviceStateConnecting)
}

// Shutdown tears the stack down: the session becomes inactive and all
// control flags are cleared. The frame counters are kept in memory; a new
// Connect starts a fresh activation.
func (s *Stack) Shutdown() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.stateController(deviceStateShutdown)
}

/*
 * State controller.
 */

func (s *Stack) stateController(newState deviceState) models.Status {
	switch newState {
	case deviceStateIdle:
		return s.processIdleState()
	case deviceStateConnecting:
		return s.processConnectingState()
	case deviceStateJoining:
		return s.processJoiningState()
	case deviceStateConnected:
		s.processConnectedState()
		return models.StatusOK
	case deviceStateScheduling:
		return s.processSchedulingState()
	case deviceStateStatusCheck:
		s.processStatusCheckState()
		return models.StatusOK
	case deviceStateShutdown:
		return s.processShutdownState()
	default:
		// only a coding error can request any other state
		log.WithField("state", newState).Error("stack: unknown target state")
		return models.StatusServiceUnknown
	}
}

func (s *Stack) processIdleState() models.Status {
	if s.state == deviceStateNotInitialized {
		s.state = deviceStateIdle
		return s.processUninitializedState()
	}

	s.state = deviceStateIdle
	return models.StatusOK
}

func (s *Stack) processUninitializedState() models.Status {
	st := s.mac.Initialize(s.queue, s.handleSchedulingFailure)
	if st != models.StatusOK {
		return st
	}

	s.state = deviceStateIdle

	if s.version == mac.LW11 {
		s.forcedTimer = s.queue.NewTimer(s.forcedTimerExpiry)
		s.rejoinType0Timer = s.queue.NewTimer(s.rejoinType0TimerExpiry)
		s.rejoinType1Stamp = s.queue.Clock().Now()
	}

	return models.StatusOK
}

func (s *Stack) processConnectingState() models.Status {
	s.state = deviceStateConnecting

	if s.flags.has(flagUsingOTAA) {
		return s.processJoiningState()
	}

	st := s.mac.Join(false)
	if st != models.StatusOK {
		return st
	}

	log.Debug("stack: abp connection ok")
	s.processConnectedState()
	return models.StatusOK
}

func (s *Stack) processJoiningState() models.Status {
	if s.state == deviceStateConnecting {
		s.state = deviceStateJoining
		log.Debug("stack: sending join-request")
		return s.mac.Join(true)
	}

	if s.state == deviceStateAwaitingJoinAccept &&
		s.mac.CurrentSlot() != mac.RXSlot1 {
		s.state = deviceStateJoining

		if !s.mac.ContinueJoining() {
			s.flags.clear(flagConnectInProgress)
			s.sendEvent(models.EventJoinFailure)
			s.state = deviceStateIdle
		}
	}

	return models.StatusOK
}

func (s *Stack) processConnectedState() {
	s.flags.set(flagConnected)
	s.flags.clear(flagConnectInProgress)

	if s.flags.has(flagUsingOTAA) {
		log.Debug("stack: otaa connection ok")
	}

	s.session.Active = true
	s.sendEvent(models.EventConnected)

	s.state = deviceStateIdle
}

func (s *Stack) processSchedulingState() models.Status {
	if s.state != deviceStateIdle {
		if s.state != deviceStateReceiving && s.mac.DeviceClass() != models.ClassC {
			return models.StatusBusy
		}
	}

	st := s.mac.SendOngoingTX()
	if st == models.StatusOK {
		s.flags.clear(flagTXDone)
		s.mac.SetTXOngoing(true)
		s.state = deviceStateSending
		monitoring.UplinkScheduled()
	}

	return st
}

func (s *Stack) processStatusCheckState() {
	if s.state == deviceStateSending || s.state == deviceStateAwaitingAck {
		// Arriving here from SENDING or AWAITING_ACK means no RX
		// window brought a response: an unconfirmed message completed
		// without a downlink, the confirmed retries are exhausted, the
		// radio timed out, or a deferred transmission could not be
		// scheduled. The MCPS confirmation status selects the event.
		s.flags.clear(flagTXDone)
		s.mac.SetTXOngoing(false)
		s.mac.ResetOngoingTX()
		s.mcpsConfirmHandler()
	} else if s.state == deviceStateReceiving {
		if s.flags.has(flagTXDone) || s.flags.has(flagRetryExhausted) {
			s.flags.clear(flagTXDone)
			s.flags.clear(flagRetryExhausted)
			s.mac.SetTXOngoing(false)
			s.mac.ResetOngoingTX()
			// an automatic uplink must not surface a TX event to
			// the application
			if s.automaticUplinkOngoing {
				s.automaticUplinkOngoing = false
			} else {
				s.mcpsConfirmHandler()
			}
		}

		if s.flags.has(flagMsgReceived) {
			s.flags.clear(flagMsgReceived)
			s.mcpsIndicationHandler()
		}
	}
}

func (s *Stack) processShutdownState() models.Status {
	// drop the channel list; the radio is put to sleep by the MAC
	s.mac.RemoveChannelPlan()
	s.mac.Disconnect()
	s.session.Active = false
	s.state = deviceStateShutdown
	s.flags = 0
	s.sendEvent(models.EventDisconnected)
	return models.StatusDeviceOff
}

// stateMachineRunToCompletion parks the state machine after a completed
// cycle: Class C keeps listening, everything else returns to idle.
func (s *Stack) stateMachineRunToCompletion() {
	if s.mac.DeviceClass() == models.ClassC {
		s.state = deviceStateReceiving
		return
	}

	s.state = deviceStateIdle
}

func (s *Stack) sendEvent(event models.Event) {
	monitoring.EventEmitted(event)

	if s.callbacks.Events != nil {
		cb := s.callbacks.Events
		s.queue.Post(func() {
			cb(event)
		})
	}
}

/*
 * Radio interrupt handlers. These run in interrupt (driver) context and only
 * marshal typed work items onto the event queue; the queue goroutine owns
 * all mutable state.
 */

func (s *Stack) txInterruptHandler() {
	s.txTimestamp = s.queue.Clock().Now()
	s.queue.Post(s.processTransmission)
}

func (s *Stack) rxInterruptHandler(payload []byte, rssi int16, snr int8) {
	// The staging buffer is owned by the processor until released: a
	// second reception arriving before the previous one was consumed is
	// dropped here.
	if len(payload) > len(s.rxPayload) ||
		!atomic.CompareAndSwapInt32(&s.rxPayloadInUse, 0, 1) {
		return
	}

	s.rxTimestamp = s.queue.Clock().Now()
	size := copy(s.rxPayload[:], payload)

	s.queue.Post(func() {
		s.processReception(s.rxPayload[:size], rssi, snr)
	})
}

func (s *Stack) rxErrorInterruptHandler() {
	s.queue.Post(func() {
		s.processReceptionTimeout(false)
	})
}

func (s *Stack) txTimeoutInterruptHandler() {
	s.queue.Post(s.processTransmissionTimeout)
}

func (s *Stack) rxTimeoutInterruptHandler() {
	s.queue.Post(func() {
		s.processReceptionTimeout(true)
	})
}

/*
 * Metadata.
 */

func (s *Stack) makeTXMetadataAvailable() {
	confirm := s.mac.McpsConfirmation()
	s.txMetadata = models.TXMetadata{
		Stale:       false,
		Channel:     confirm.Channel,
		DataRate:    confirm.DataRate,
		TXPower:     confirm.TXPower,
		TXTimeOnAir: confirm.TXTimeOnAir,
		NbRetries:   confirm.NbRetries,
	}
}

func (s *Stack) makeRXMetadataAvailable() {
	ind := s.mac.McpsIndication()
	s.rxMetadata = models.RXMetadata{
		Stale:       false,
		RXDataRate:  ind.RXDataRate,
		RSSI:        ind.RSSI,
		SNR:         ind.SNR,
		Channel:     ind.Channel,
		RXTimeOnAir: ind.RXTimeOnAir,
	}
}

// AcquireTXMetadata returns the last TX metadata. Reading consumes the
// record.
func (s *Stack) AcquireTXMetadata() (models.TXMetadata, models.Status) {
	if s.state == deviceStateNotInitialized {
		return models.TXMetadata{}, models.StatusNotInitialized
	}

	if !s.txMetadata.Stale {
		md := s.txMetadata
		s.txMetadata.Stale = true
		return md, models.StatusOK
	}

	return models.TXMetadata{}, models.StatusMetadataNotAvailable
}

// AcquireRXMetadata returns the last RX metadata. Reading consumes the
// record.
func (s *Stack) AcquireRXMetadata() (models.RXMetadata, models.Status) {
	if s.state == deviceStateNotInitialized {
		return models.RXMetadata{}, models.StatusNotInitialized
	}

	if !s.rxMetadata.Stale {
		md := s.rxMetadata
		s.rxMetadata.Stale = true
		return md, models.StatusOK
	}

	return models.RXMetadata{}, models.StatusMetadataNotAvailable
}

// AcquireBackoffMetadata returns the time until the pending deferred
// transmission, or -1 and METADATA_NOT_AVAILABLE when no backoff is armed.
func (s *Stack) AcquireBackoffMetadata() (time.Duration, models.Status) {
	if s.state == deviceStateNotInitialized {
		return -1, models.StatusNotInitialized
	}

	if left, ok := s.mac.BackoffTime(); ok {
		return left, models.StatusOK
	}

	return -1, models.StatusMetadataNotAvailable
}

/*
 * Port helpers.
 */

// isPortValid reports whether the application may use the given port. Port 0
// is reserved for the internal automatic-uplink path, 1..223 are application
// ports, 224 is the compliance port (a single explicit branch on the
// compliance configuration) and 225..255 are reserved.
func (s *Stack) isPortValid(port uint8, allowPort0 bool) bool {
	if port == 0 {
		return allowPort0
	}
	if port == complianceTestingPort {
		return s.conf.ComplianceTest
	}
	return port < complianceTestingPort
}

func (s *Stack) setApplicationPort(port uint8, allowPort0 bool) models.Status {
	if s.isPortValid(port, allowPort0) {
		s.appPort = port
		return models.StatusOK
	}

	return models.StatusPortInvalid
}

/*
 * Channel, rate and session control.
 */

// AddChannels installs a channel plan.
func (s *Stack) AddChannels(plan mac.ChannelPlan) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.mac.AddChannelPlan(plan)
}

// RemoveChannel removes a single channel.
func (s *Stack) RemoveChannel(id uint8) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.mac.RemoveChannel(id)
}

// DropChannelList removes the whole (non-default) channel plan.
func (s *Stack) DropChannelList() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.mac.RemoveChannelPlan()
}

// GetEnabledChannels returns the active channel plan.
func (s *Stack) GetEnabledChannels() (mac.ChannelPlan, models.Status) {
	if s.state == deviceStateNotInitialized {
		return nil, models.StatusNotInitialized
	}

	return s.mac.ChannelPlan()
}

// SetChannelDataRate sets the uplink data rate.
func (s *Stack) SetChannelDataRate(dataRate uint8) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.mac.SetChannelDataRate(dataRate)
}

// EnableAdaptiveDatarate switches ADR on or off.
func (s *Stack) EnableAdaptiveDatarate(enabled bool) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	s.mac.EnableADR(enabled)
	return models.StatusOK
}

// SetConfirmedMsgRetry sets the confirmed-uplink retry count. A count of 255
// is rejected with PARAMETER_INVALID.
func (s *Stack) SetConfirmedMsgRetry(count uint8) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if count >= maxConfirmedMsgRetries {
		return models.StatusParameterInvalid
	}

	s.numRetry = count
	return models.StatusOK
}

// Session returns a copy of the session state.
func (s *Stack) Session() Session {
	return s.session
}
