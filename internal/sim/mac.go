package sim

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/classb"
	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/lorawan"
)

const (
	backoffDelay = 100 * time.Millisecond

	rx1Delay     = time.Second
	rx2Delay     = 2 * time.Second
	joinRX1Delay = 5 * time.Second
	joinRX2Delay = 6 * time.Second

	acquisitionDelay = 2 * time.Second

	maxAppPayload = 222
	maxDataRate   = 7

	defaultJoinTrials = 3
)

type txKind uint8

const (
	txKindNone txKind = iota
	txKindJoin
	txKindData
	txKindRejoin
)

type ongoingTX struct {
	port      uint8
	data      []byte
	flags     models.MsgFlag
	maxTrials uint8
	attempt   uint8
}

func (o *ongoingTX) confirmed() bool {
	return o.flags&models.FlagConfirmed != 0
}

// delivery describes what the network puts into the currently open RX
// window.
type delivery struct {
	joinAccept bool
	cryptoFail bool
	ack        bool
	downlink   *Downlink
}

// RejoinRecord captures a rejoin-request transmission for assertions.
type RejoinRecord struct {
	Type   lorawan.JoinType
	Forced bool
	DR     uint8
}

// MACLayer is the simulated lower MAC. It implements mac.Ops against the
// scripted Network; frame contents are not modelled, only the records and
// timing the stack observes.
type MACLayer struct {
	queue *events.Queue
	radio *Radio
	net   *Network

	deviceVersion     mac.Version
	schedulingFailure func()

	joined          bool
	joinAttempt     int
	maxJoinAttempts int
	connectParams   *models.ConnectParams

	kind        txKind
	ongoing     *ongoingTX
	txOngoing   bool
	currentSlot mac.RXSlot

	backoff      *events.Timer
	backoffArmed bool
	rx1Timer     *events.Timer
	rx2Timer     *events.Timer

	pendingDelivery *delivery

	mcpsConfirm mac.McpsConfirm
	mcpsInd     mac.McpsIndication
	mlmeInd     mac.MlmeIndication

	class          models.DeviceClass
	classAckExpiry func()

	adr      bool
	dataRate uint8
	txPower  int8
	fCntUp   uint32
	fCntDown uint32

	qosLevel     uint8
	prevQOSLevel uint8
	adrAckLimit  uint16

	rejoinMaxTime  uint32
	rejoinMaxCount uint32
	Rejoins        []RejoinRecord

	channels map[uint8]mac.Channel

	linkCheckStaged  bool
	deviceTimeStaged bool
	deviceTimeCB     func(gps.Millis)
	pingSlotStaged   bool
	pingSlotPeriod   uint8
	resetIndStaged   bool
	rekeyIndStaged   bool
	deviceModeStaged bool
	deviceModeClass  models.DeviceClass

	batteryLevel func() uint8

	beaconHandler mac.BeaconHandler
	beaconTimer   *events.Timer
	lastBeacon    mac.Beacon
	haveBeacon    bool
}

// NewMACLayer creates a simulated MAC bound to the given radio and network
// script.
func NewMACLayer(radio *Radio, net *Network, deviceVersion mac.Version) *MACLayer {
	return &MACLayer{
		radio:           radio,
		net:             net,
		deviceVersion:   deviceVersion,
		maxJoinAttempts: defaultJoinTrials,
		qosLevel:        1,
		prevQOSLevel:    1,
		adrAckLimit:     64,
		rejoinMaxTime:   3600,
		rejoinMaxCount:  16,
		channels:        defaultChannels(),
	}
}

func defaultChannels() map[uint8]mac.Channel {
	return map[uint8]mac.Channel{
		0: {ID: 0, Frequency: 868100000, DRMin: 0, DRMax: 5},
		1: {ID: 1, Frequency: 868300000, DRMin: 0, DRMax: 5},
		2: {ID: 2, Frequency: 868500000, DRMin: 0, DRMax: 5},
	}
}

// Initialize implements the mac.Ops interface.
func (m *MACLayer) Initialize(queue *events.Queue, schedulingFailure func()) models.Status {
	if queue == nil {
		return models.StatusParameterInvalid
	}

	m.queue = queue
	m.schedulingFailure = schedulingFailure
	m.backoff = queue.NewTimer(m.backoffExpiry)
	m.rx1Timer = queue.NewTimer(func() { m.openWindow(mac.RXSlot1) })
	m.rx2Timer = queue.NewTimer(func() { m.openWindow(mac.RXSlot2) })
	m.beaconTimer = queue.NewTimer(m.beaconSlot)

	return models.StatusOK
}

// Disconnect implements the mac.Ops interface.
func (m *MACLayer) Disconnect() {
	m.joined = false
	m.txOngoing = false
	m.ongoing = nil
	m.kind = txKindNone
	m.currentSlot = mac.RXSlotNone
	if m.backoff != nil {
		m.backoff.Stop()
		m.rx1Timer.Stop()
		m.rx2Timer.Stop()
		m.beaconTimer.Stop()
	}
	m.backoffArmed = false
	m.haveBeacon = false
	m.beaconHandler = nil
}

/*
 * Join management.
 */

// PrepareJoin implements the mac.Ops interface.
func (m *MACLayer) PrepareJoin(params *models.ConnectParams, otaa bool) models.Status {
	m.connectParams = params
	m.maxJoinAttempts = defaultJoinTrials

	if params == nil {
		return models.StatusOK
	}

	if otaa {
		if params.OTAA.NbTrials > 0 {
			m.maxJoinAttempts = int(params.OTAA.NbTrials)
		}
		var zero lorawan.AES128Key
		if params.OTAA.AppKey == zero && params.OTAA.NwkKey == zero {
			return models.StatusParameterInvalid
		}
	} else {
		var zero lorawan.DevAddr
		if params.ABP.DevAddr == zero {
			return models.StatusParameterInvalid
		}
	}

	return models.StatusOK
}

// Join implements the mac.Ops interface.
func (m *MACLayer) Join(otaa bool) models.Status {
	if !otaa {
		m.joined = true
		m.fCntUp = 0
		m.fCntDown = 0
		return models.StatusOK
	}

	if m.txOngoing || m.backoffArmed {
		return models.StatusBusy
	}

	m.joinAttempt = 1
	m.startTX(txKindJoin)
	return models.StatusConnectInProgress
}

// ContinueJoining implements the mac.Ops interface.
func (m *MACLayer) ContinueJoining() bool {
	if m.joinAttempt >= m.maxJoinAttempts {
		return false
	}

	m.joinAttempt++
	m.startTX(txKindJoin)
	return true
}

// NwkJoined implements the mac.Ops interface.
func (m *MACLayer) NwkJoined() bool {
	return m.joined
}

// Rejoin implements the mac.Ops interface.
func (m *MACLayer) Rejoin(rejoinType lorawan.JoinType, forced bool, dataRate uint8) {
	m.Rejoins = append(m.Rejoins, RejoinRecord{Type: rejoinType, Forced: forced, DR: dataRate})
	m.startTX(txKindRejoin)
}

// RejoinParameters implements the mac.Ops interface.
func (m *MACLayer) RejoinParameters() (uint32, uint32) {
	return m.rejoinMaxTime, m.rejoinMaxCount
}

// SetRejoinParameters overrides the RejoinParamSetupReq values.
func (m *MACLayer) SetRejoinParameters(maxTime, maxCount uint32) {
	m.rejoinMaxTime = maxTime
	m.rejoinMaxCount = maxCount
}

/*
 * Transmit pipeline.
 */

// PrepareOngoingTX implements the mac.Ops interface.
func (m *MACLayer) PrepareOngoingTX(port uint8, data []byte, flags models.MsgFlag, numRetries uint8) int16 {
	if len(data) > maxAppPayload {
		return int16(models.StatusLengthError)
	}

	payload := make([]byte, len(data))
	copy(payload, data)

	m.ongoing = &ongoingTX{
		port:      port,
		data:      payload,
		flags:     flags,
		maxTrials: 1 + numRetries,
	}

	m.fCntUp++

	mcpsType := mac.McpsUnconfirmed
	switch {
	case flags&models.FlagConfirmed != 0:
		mcpsType = mac.McpsConfirmed
	case flags&models.FlagProprietary != 0:
		mcpsType = mac.McpsProprietary
	}

	m.mcpsConfirm = mac.McpsConfirm{
		Status:         mac.InfoStatusError,
		Type:           mcpsType,
		Channel:        uint8(m.fCntUp % 3),
		DataRate:       m.dataRate,
		TXPower:        m.txPower,
		TXTimeOnAir:    frameAirtime,
		ULFrameCounter: m.fCntUp,
	}

	return int16(len(payload))
}

// SendOngoingTX implements the mac.Ops interface.
func (m *MACLayer) SendOngoingTX() models.Status {
	if m.ongoing == nil {
		return models.StatusParameterInvalid
	}

	if m.ongoing.attempt == 0 {
		m.ongoing.attempt = 1
	}
	m.mcpsConfirm.NbRetries = m.ongoing.attempt

	m.startTX(txKindData)
	return models.StatusOK
}

// ContinueSending implements the mac.Ops interface.
func (m *MACLayer) ContinueSending() bool {
	if m.ongoing == nil || m.mcpsConfirm.Type != mac.McpsConfirmed {
		return false
	}

	if m.ongoing.attempt >= m.ongoing.maxTrials {
		m.mcpsConfirm.Status = mac.InfoStatusError
		return false
	}

	m.ongoing.attempt++
	m.mcpsConfirm.NbRetries = m.ongoing.attempt
	m.startTX(txKindData)
	return true
}

// ClearTXPipe implements the mac.Ops interface.
func (m *MACLayer) ClearTXPipe() models.Status {
	if !m.backoffArmed {
		// the radio is armed (or nothing is pending); too late to
		// cancel
		return models.StatusBusy
	}

	m.backoff.Stop()
	m.backoffArmed = false
	m.ongoing = nil
	m.kind = txKindNone
	return models.StatusOK
}

// SetTXOngoing implements the mac.Ops interface.
func (m *MACLayer) SetTXOngoing(ongoing bool) {
	m.txOngoing = ongoing
}

// TXOngoing implements the mac.Ops interface.
func (m *MACLayer) TXOngoing() bool {
	return m.txOngoing
}

// ResetOngoingTX implements the mac.Ops interface.
func (m *MACLayer) ResetOngoingTX() {
	m.ongoing = nil
	m.kind = txKindNone
}

// PostProcessMcpsReq implements the mac.Ops interface.
func (m *MACLayer) PostProcessMcpsReq() {
	if m.mcpsConfirm.Type != mac.McpsConfirmed || m.mcpsConfirm.AckReceived {
		m.mcpsConfirm.Status = mac.InfoStatusOK
	}
}

func (m *MACLayer) startTX(kind txKind) {
	m.kind = kind
	m.backoffArmed = true
	m.backoff.Start(backoffDelay)
}

func (m *MACLayer) backoffExpiry() {
	m.backoffArmed = false

	if m.net.ScheduleFail && m.kind == txKindData {
		m.mcpsConfirm.Status = mac.InfoStatusTXDRPayloadSizeError
		m.schedulingFailure()
		return
	}

	if m.net.TXFail {
		m.radio.failTransmit()
		return
	}

	m.radio.transmit()
}

/*
 * Radio event post-processing.
 */

// OnRadioTXDone implements the mac.Ops interface.
func (m *MACLayer) OnRadioTXDone(ts time.Duration) {
	if m.kind == txKindJoin {
		m.rx1Timer.Start(joinRX1Delay)
		m.rx2Timer.Start(joinRX2Delay)
		return
	}

	m.rx1Timer.Start(rx1Delay)
	m.rx2Timer.Start(rx2Delay)
}

// OnRadioTXTimeout implements the mac.Ops interface.
func (m *MACLayer) OnRadioTXTimeout() {
	m.mcpsConfirm.Status = mac.InfoStatusTXTimeout
	m.kind = txKindNone
}

func (m *MACLayer) openWindow(slot mac.RXSlot) {
	m.currentSlot = slot

	d := m.decideDelivery(slot)
	if d == nil {
		m.radio.timeout()
		return
	}

	m.pendingDelivery = d
	if slot == mac.RXSlot1 {
		m.rx2Timer.Stop()
	}

	payload := []byte{0x00}
	if d.downlink != nil {
		payload = deliveryPayload(d.downlink)
	}

	m.radio.deliver(payload, -60, 7)
}

func (m *MACLayer) decideDelivery(slot mac.RXSlot) *delivery {
	switch m.kind {
	case txKindJoin:
		if m.net.JoinAcceptOnAttempt == m.joinAttempt && slot == m.net.JoinWindow {
			return &delivery{joinAccept: true, cryptoFail: m.net.JoinCryptoFail}
		}
	case txKindData:
		var d delivery
		var any bool

		if m.ongoing != nil && m.ongoing.confirmed() &&
			m.net.AckOnAttempt == int(m.ongoing.attempt) && slot == m.net.AckWindow {
			d.ack = true
			any = true
		}

		if dl := m.net.popDownlink(slot); dl != nil {
			d.downlink = dl
			any = true
		}

		if any {
			return &d
		}
	}

	return nil
}

// OnRadioRXDone implements the mac.Ops interface.
func (m *MACLayer) OnRadioRXDone(payload []byte, rssi int16, snr int8, ts time.Duration, mlmeConfirm mac.MlmeConfirmHandler) {
	d := m.pendingDelivery
	m.pendingDelivery = nil

	if d == nil {
		log.Warning("sim: reception without a scheduled delivery")
		return
	}

	if d.joinAccept {
		m.handleJoinAccept(d, mlmeConfirm)
		return
	}

	m.fCntDown++

	ind := mac.McpsIndication{
		Pending:        true,
		Status:         mac.InfoStatusOK,
		Type:           mac.McpsUnconfirmed,
		AckReceived:    d.ack,
		DLFrameCounter: m.fCntDown,
		RXDataRate:     m.dataRate,
		RSSI:           rssi,
		SNR:            snr,
		Channel:        m.mcpsConfirm.Channel,
		RXTimeOnAir:    frameAirtime,
	}

	if d.downlink != nil {
		ind.Type = d.downlink.Type
		ind.Port = d.downlink.Port
		ind.FPending = d.downlink.FPending
		if len(d.downlink.Data) > 0 {
			buf := make([]byte, len(d.downlink.Data))
			copy(buf, d.downlink.Data)
			ind.Buffer = buf
			ind.DataReceived = true
		}
	}

	m.mcpsInd = ind

	if d.ack {
		m.mcpsConfirm.AckReceived = true
		m.mcpsConfirm.Status = mac.InfoStatusOK
	}

	// answers to the staged sticky requests
	if m.linkCheckStaged {
		m.linkCheckStaged = false
		mlmeConfirm(mac.MlmeConfirm{
			Type:        mac.MlmeLinkCheck,
			Status:      mac.InfoStatusOK,
			DemodMargin: m.net.LinkCheckMargin,
			NbGateways:  m.net.LinkCheckGateways,
		})
	}

	if m.deviceTimeStaged && m.net.AnswerDeviceTime && m.deviceTimeCB != nil {
		m.deviceTimeStaged = false
		m.deviceTimeCB(m.networkGPSNow())
	}

	if m.pingSlotStaged {
		m.pingSlotStaged = false
		mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmePingSlotInfo, Status: mac.InfoStatusOK})
	}

	if m.resetIndStaged {
		m.resetIndStaged = false
		mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmeReset, Status: mac.InfoStatusOK})
	}

	if m.rekeyIndStaged {
		m.rekeyIndStaged = false
		mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmeRekey, Status: mac.InfoStatusOK})
	}

	if m.deviceModeStaged {
		m.deviceModeStaged = false
		class := m.deviceModeClass
		if !m.net.AcceptDeviceMode {
			class = m.class
		}
		mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmeDeviceMode, Status: mac.InfoStatusOK, Class: class})
	}

	if d.downlink != nil {
		if d.downlink.ScheduleUplink {
			m.mlmeInd = mac.MlmeIndication{Pending: true, Type: mac.MlmeScheduleUplink}
		}

		if fr := d.downlink.ForceRejoin; fr != nil {
			mlmeConfirm(mac.MlmeConfirm{
				Type:       mac.MlmeForceRejoin,
				Status:     mac.InfoStatusOK,
				RejoinType: fr.RejoinType,
				Period:     fr.Period,
				MaxRetries: fr.MaxRetries,
				DataRate:   fr.DataRate,
			})
		}
	}
}

func (m *MACLayer) handleJoinAccept(d *delivery, mlmeConfirm mac.MlmeConfirmHandler) {
	m.rx2Timer.Stop()
	m.kind = txKindNone

	if d.cryptoFail {
		mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmeJoinAccept, Status: mac.InfoStatusCryptoFail})
		return
	}

	m.joined = true
	m.fCntUp = 0
	m.fCntDown = 0

	mlmeConfirm(mac.MlmeConfirm{Type: mac.MlmeJoinAccept, Status: mac.InfoStatusOK})
}

// OnRadioRXTimeout implements the mac.Ops interface.
func (m *MACLayer) OnRadioRXTimeout(isTimeout bool) {
	if m.currentSlot != mac.RXSlot2 {
		// RX2 is still ahead
		return
	}

	// the RX windows of this cycle are exhausted
	if m.kind == txKindData && m.ongoing != nil && !m.ongoing.confirmed() {
		m.mcpsConfirm.Status = mac.InfoStatusOK
	}
	if m.kind == txKindRejoin {
		m.kind = txKindNone
	}
	if m.class == models.ClassC {
		m.currentSlot = mac.RXSlotClassC
	}
}

// McpsConfirmation implements the mac.Ops interface.
func (m *MACLayer) McpsConfirmation() *mac.McpsConfirm {
	return &m.mcpsConfirm
}

// McpsIndication implements the mac.Ops interface.
func (m *MACLayer) McpsIndication() *mac.McpsIndication {
	return &m.mcpsInd
}

// MlmeIndication implements the mac.Ops interface.
func (m *MACLayer) MlmeIndication() *mac.MlmeIndication {
	return &m.mlmeInd
}

// PostProcessMcpsInd implements the mac.Ops interface.
func (m *MACLayer) PostProcessMcpsInd() {
	m.mcpsInd.Pending = false
}

// PostProcessMlmeInd implements the mac.Ops interface.
func (m *MACLayer) PostProcessMlmeInd() {
	m.mlmeInd.Pending = false
}

// CurrentSlot implements the mac.Ops interface.
func (m *MACLayer) CurrentSlot() mac.RXSlot {
	return m.currentSlot
}

/*
 * Sticky MAC command staging.
 */

// SetupLinkCheckRequest implements the mac.Ops interface.
func (m *MACLayer) SetupLinkCheckRequest() {
	m.linkCheckStaged = true
}

// SetupDeviceTimeRequest implements the mac.Ops interface.
func (m *MACLayer) SetupDeviceTimeRequest(handler func(gps.Millis)) {
	m.deviceTimeStaged = true
	m.deviceTimeCB = handler
}

// AddPingSlotInfoReq implements the mac.Ops interface.
func (m *MACLayer) AddPingSlotInfoReq(periodicity uint8) models.Status {
	if periodicity > 7 {
		return models.StatusParameterInvalid
	}

	if _, err := classb.PingNb(periodicity); err != nil {
		return models.StatusParameterInvalid
	}

	m.pingSlotStaged = true
	m.pingSlotPeriod = periodicity
	return models.StatusOK
}

// SetupResetIndication implements the mac.Ops interface.
func (m *MACLayer) SetupResetIndication() {
	m.resetIndStaged = true
}

// SetupRekeyIndication implements the mac.Ops interface.
func (m *MACLayer) SetupRekeyIndication() {
	m.rekeyIndStaged = true
}

// SetupDeviceModeIndication implements the mac.Ops interface.
func (m *MACLayer) SetupDeviceModeIndication(class models.DeviceClass) {
	m.deviceModeStaged = true
	m.deviceModeClass = class
}

/*
 * Class, rate and channel control.
 */

// DeviceClass implements the mac.Ops interface.
func (m *MACLayer) DeviceClass() models.DeviceClass {
	return m.class
}

// SetDeviceClass implements the mac.Ops interface.
func (m *MACLayer) SetDeviceClass(class models.DeviceClass, ackExpiry func()) models.Status {
	m.class = class
	m.classAckExpiry = ackExpiry

	if class == models.ClassC {
		m.currentSlot = mac.RXSlotClassC
	}

	return models.StatusOK
}

// ServerType implements the mac.Ops interface.
func (m *MACLayer) ServerType() mac.Version {
	if !m.joined {
		return m.deviceVersion
	}
	if m.net.ServerVersion < m.deviceVersion {
		return m.net.ServerVersion
	}
	return m.deviceVersion
}

// ADRAckLimit implements the mac.Ops interface.
func (m *MACLayer) ADRAckLimit() uint16 {
	return m.adrAckLimit
}

// SetADRAckLimit overrides the ADR ack limit.
func (m *MACLayer) SetADRAckLimit(limit uint16) {
	m.adrAckLimit = limit
}

// QOSLevel implements the mac.Ops interface.
func (m *MACLayer) QOSLevel() uint8 {
	return m.qosLevel
}

// PrevQOSLevel implements the mac.Ops interface.
func (m *MACLayer) PrevQOSLevel() uint8 {
	return m.prevQOSLevel
}

// SetQOSLevel sets the (network-instructed) QOS repetition levels.
func (m *MACLayer) SetQOSLevel(level, prev uint8) {
	m.qosLevel = level
	m.prevQOSLevel = prev
}

// EnableADR implements the mac.Ops interface.
func (m *MACLayer) EnableADR(enabled bool) {
	m.adr = enabled
}

// SetChannelDataRate implements the mac.Ops interface.
func (m *MACLayer) SetChannelDataRate(dataRate uint8) models.Status {
	if dataRate > maxDataRate {
		return models.StatusDatarateInvalid
	}

	if m.adr {
		log.Warning("sim: setting a data rate while ADR is on")
	}

	m.dataRate = dataRate
	return models.StatusOK
}

// AddChannelPlan implements the mac.Ops interface.
func (m *MACLayer) AddChannelPlan(plan mac.ChannelPlan) models.Status {
	for _, c := range plan {
		if c.ID <= 2 || c.ID > 15 {
			return models.StatusParameterInvalid
		}
		if c.Frequency == 0 {
			return models.StatusFrequencyInvalid
		}
		if c.DRMin > c.DRMax || c.DRMax > maxDataRate {
			return models.StatusDatarateInvalid
		}
	}

	for _, c := range plan {
		m.channels[c.ID] = c
	}

	return models.StatusOK
}

// RemoveChannelPlan implements the mac.Ops interface.
func (m *MACLayer) RemoveChannelPlan() models.Status {
	m.channels = defaultChannels()
	return models.StatusOK
}

// RemoveChannel implements the mac.Ops interface.
func (m *MACLayer) RemoveChannel(id uint8) models.Status {
	if id <= 2 {
		// the default channels can not be removed
		return models.StatusParameterInvalid
	}

	if _, ok := m.channels[id]; !ok {
		return models.StatusParameterInvalid
	}

	delete(m.channels, id)
	return models.StatusOK
}

// ChannelPlan implements the mac.Ops interface.
func (m *MACLayer) ChannelPlan() (mac.ChannelPlan, models.Status) {
	var plan mac.ChannelPlan
	for _, c := range m.channels {
		plan = append(plan, c)
	}
	sort.Slice(plan, func(i, j int) bool {
		return plan[i].ID < plan[j].ID
	})

	return plan, models.StatusOK
}

// BackoffTime implements the mac.Ops interface.
func (m *MACLayer) BackoffTime() (time.Duration, bool) {
	if !m.backoffArmed {
		return 0, false
	}
	return m.backoff.TimeLeft()
}

// SetBatteryLevelProvider implements the mac.Ops interface.
func (m *MACLayer) SetBatteryLevelProvider(provider func() uint8) {
	m.batteryLevel = provider
}

/*
 * Class-B beacons.
 */

// EnableBeaconAcquisition implements the mac.Ops interface.
func (m *MACLayer) EnableBeaconAcquisition(handler mac.BeaconHandler) models.Status {
	if handler == nil {
		return models.StatusParameterInvalid
	}

	m.beaconHandler = handler

	m.queue.PostIn(acquisitionDelay, func() {
		if !m.net.BeaconsAvailable || m.net.BeaconsSuppressed {
			m.beaconHandler(mac.BeaconAcquisitionFailed, nil)
			return
		}

		b := m.makeBeacon()
		m.lastBeacon = b
		m.haveBeacon = true
		m.beaconHandler(mac.BeaconAcquisitionSuccess, &b)
		m.beaconTimer.Start(classb.BeaconPeriod)
	})

	return models.StatusOK
}

func (m *MACLayer) beaconSlot() {
	if m.beaconHandler == nil {
		return
	}

	if !m.net.BeaconsAvailable || m.net.BeaconsSuppressed {
		m.beaconHandler(mac.BeaconMiss, nil)
	} else {
		b := m.makeBeacon()
		m.lastBeacon = b
		m.haveBeacon = true
		m.beaconHandler(mac.BeaconLock, &b)
	}

	m.beaconTimer.Start(classb.BeaconPeriod)
}

func (m *MACLayer) makeBeacon() mac.Beacon {
	start := classb.BeaconStartBefore(m.networkGPSNow())
	return mac.Beacon{
		Time:      uint32(start / 1000),
		Frequency: 869525000,
		DataRate:  3,
		RSSI:      -80,
		SNR:       5,
	}
}

// LastRXBeacon implements the mac.Ops interface.
func (m *MACLayer) LastRXBeacon() (mac.Beacon, models.Status) {
	if !m.haveBeacon {
		return mac.Beacon{}, models.StatusNoBeaconFound
	}
	return m.lastBeacon, models.StatusOK
}

// DeliverClassC injects a downlink outside the RX1/RX2 windows, using the
// continuous Class-C listening slot.
func (m *MACLayer) DeliverClassC(dl Downlink) {
	if m.class != models.ClassC {
		log.Warning("sim: class-c delivery outside class C")
		return
	}

	m.currentSlot = mac.RXSlotClassC
	m.pendingDelivery = &delivery{downlink: &dl}
	m.radio.deliver(deliveryPayload(&dl), -60, 7)
}

// DeliverPingSlot injects a downlink into a Class-B ping slot.
func (m *MACLayer) DeliverPingSlot(dl Downlink, multicast bool) {
	m.currentSlot = mac.RXSlotUnicastPingSlot
	if multicast {
		m.currentSlot = mac.RXSlotMulticastPingSlot
	}

	m.pendingDelivery = &delivery{downlink: &dl}
	m.radio.deliver(deliveryPayload(&dl), -60, 7)
}

func deliveryPayload(dl *Downlink) []byte {
	if len(dl.Data) > 0 {
		return dl.Data
	}
	return []byte{0x00}
}

func (m *MACLayer) networkGPSNow() gps.Millis {
	if m.net.GPSTime == 0 {
		return 0
	}
	return m.net.GPSTime + gps.Millis(m.queue.Clock().Now()/time.Millisecond)
}
