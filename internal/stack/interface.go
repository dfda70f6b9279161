package stack

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/radio"
)

// unixGPSEpochDiff is the offset between the Unix epoch (1970) and the GPS
// epoch (1980-01-06), in seconds.
const unixGPSEpochDiff = 315964800

// Interface is the thread-safe application surface of the device stack.
// Every method acquires the stack mutex for the duration of exactly one
// controller operation; the stack itself executes on the event-queue
// goroutine. Lock and Unlock are exported for applications that drive the
// event queue from a dedicated goroutine.
type Interface struct {
	mux sync.Mutex
	lw  *Stack

	// SetSystemTime applies a computed UTC time to the system clock. It
	// defaults to logging the value; embedded targets install their RTC
	// setter here.
	SetSystemTime func(t time.Time)
}

// NewInterface creates the facade for a stack bound to the given radio
// driver.
func NewInterface(lw *Stack, driver radio.Driver) *Interface {
	lw.BindRadio(driver)

	return &Interface{
		lw: lw,
		SetSystemTime: func(t time.Time) {
			log.WithField("time", t.UTC()).Info("stack: system clock set (UTC)")
		},
	}
}

// Lock acquires the stack mutex.
func (i *Interface) Lock() {
	i.mux.Lock()
}

// Unlock releases the stack mutex.
func (i *Interface) Unlock() {
	i.mux.Unlock()
}

// Initialize binds the stack to the event queue.
func (i *Interface) Initialize(queue *events.Queue) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.Initialize(queue)
}

// AddAppCallbacks registers the application callbacks.
func (i *Interface) AddAppCallbacks(callbacks *Callbacks) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.AddAppCallbacks(callbacks)
}

// Connect starts the default-configuration activation.
func (i *Interface) Connect() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.Connect()
}

// ConnectWith starts a parameterised activation.
func (i *Interface) ConnectWith(params models.ConnectParams) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.ConnectWith(params)
}

// Disconnect shuts the stack down; the session becomes inactive until a new
// Connect activates the device again.
func (i *Interface) Disconnect() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.Shutdown()
}

// Send schedules an uplink and returns the number of accepted bytes.
func (i *Interface) Send(port uint8, data []byte, flags models.MsgFlag) (int16, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.HandleTX(port, data, flags, false, false)
}

// Receive drains the pending downlink for the given port and flags.
func (i *Interface) Receive(port uint8, data []byte, flags models.MsgFlag) (int16, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.HandleRX(data, &port, &flags, true)
}

// ReceiveAny drains the pending downlink regardless of port and flags, and
// reports the actual port and flags back.
func (i *Interface) ReceiveAny(data []byte) (int16, uint8, models.MsgFlag, models.Status) {
	i.Lock()
	defer i.Unlock()

	var port uint8
	var flags models.MsgFlag
	n, st := i.lw.HandleRX(data, &port, &flags, false)
	return n, port, flags, st
}

// CancelSending clears the TX pipe if the radio has not been armed yet.
func (i *Interface) CancelSending() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.StopSending()
}

// SetDatarate sets the uplink data rate.
func (i *Interface) SetDatarate(dataRate uint8) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.SetChannelDataRate(dataRate)
}

// EnableAdaptiveDatarate enables ADR.
func (i *Interface) EnableAdaptiveDatarate() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.EnableAdaptiveDatarate(true)
}

// DisableAdaptiveDatarate disables ADR.
func (i *Interface) DisableAdaptiveDatarate() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.EnableAdaptiveDatarate(false)
}

// SetConfirmedMsgRetries sets the confirmed-uplink retry count.
func (i *Interface) SetConfirmedMsgRetries(count uint8) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.SetConfirmedMsgRetry(count)
}

// SetChannelPlan installs a channel plan.
func (i *Interface) SetChannelPlan(plan mac.ChannelPlan) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.AddChannels(plan)
}

// GetChannelPlan returns the active channel plan.
func (i *Interface) GetChannelPlan() (mac.ChannelPlan, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.GetEnabledChannels()
}

// RemoveChannel removes a single channel.
func (i *Interface) RemoveChannel(id uint8) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.RemoveChannel(id)
}

// RemoveChannelPlan removes the non-default channel plan.
func (i *Interface) RemoveChannelPlan() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.DropChannelList()
}

// AddLinkCheckRequest stages a sticky link-check request.
func (i *Interface) AddLinkCheckRequest() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.SetLinkCheckRequest()
}

// RemoveLinkCheckRequest cancels the sticky link-check request.
func (i *Interface) RemoveLinkCheckRequest() {
	i.Lock()
	defer i.Unlock()
	i.lw.RemoveLinkCheckRequest()
}

// AddDeviceTimeRequest stages a sticky device-time request.
func (i *Interface) AddDeviceTimeRequest() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.SetDeviceTimeRequest()
}

// RemoveDeviceTimeRequest cancels the sticky device-time request.
func (i *Interface) RemoveDeviceTimeRequest() {
	i.Lock()
	defer i.Unlock()
	i.lw.RemoveDeviceTimeRequest()
}

// SetDeviceClass requests a device class change.
func (i *Interface) SetDeviceClass(class models.DeviceClass) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.SetDeviceClass(class)
}

// GetTXMetadata returns (and consumes) the last TX metadata.
func (i *Interface) GetTXMetadata() (models.TXMetadata, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.AcquireTXMetadata()
}

// GetRXMetadata returns (and consumes) the last RX metadata.
func (i *Interface) GetRXMetadata() (models.RXMetadata, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.AcquireRXMetadata()
}

// GetBackoffMetadata returns the time until the pending deferred
// transmission.
func (i *Interface) GetBackoffMetadata() (time.Duration, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.AcquireBackoffMetadata()
}

// GetCurrentGPSTime returns the current GPS time, zero when unknown.
func (i *Interface) GetCurrentGPSTime() gps.Millis {
	i.Lock()
	defer i.Unlock()
	return i.lw.GetCurrentGPSTime()
}

// SetCurrentGPSTime sets the GPS time reference.
func (i *Interface) SetCurrentGPSTime(gpsTime gps.Millis) {
	i.Lock()
	defer i.Unlock()
	i.lw.SetCurrentGPSTime(gpsTime)
}

// SetSystemTimeUTC derives UTC from the GPS time reference and applies it
// through SetSystemTime. taiUTCDiff is the current TAI-UTC difference in
// seconds (e.g. 37 since 2017); TAI is always ahead of GPS by 19 seconds.
// It fails with SERVICE_UNKNOWN when no GPS time is known yet.
func (i *Interface) SetSystemTimeUTC(taiUTCDiff int) models.Status {
	// do not lock here

	curGPSTime := i.GetCurrentGPSTime()
	if curGPSTime == 0 {
		// the application needs to request a clock sync first
		return models.StatusServiceUnknown
	}

	// adjust for the Unix-to-GPS epoch offset and the leap seconds since
	// 1980
	uTime := int64(unixGPSEpochDiff) + int64(taiUTCDiff-19)

	gpsSeconds := int64(curGPSTime / 1000)
	if curGPSTime%1000 >= 500 {
		gpsSeconds++
	}
	uTime += gpsSeconds

	i.SetSystemTime(time.Unix(uTime, 0))

	return models.StatusOK
}

// AddPingSlotInfoRequest stages a sticky ping-slot-info request.
func (i *Interface) AddPingSlotInfoRequest(periodicity uint8) models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.AddPingSlotInfoRequest(periodicity)
}

// RemovePingSlotInfoRequest cancels the sticky ping-slot-info request.
func (i *Interface) RemovePingSlotInfoRequest() {
	i.Lock()
	defer i.Unlock()
	i.lw.RemovePingSlotInfoRequest()
}

// EnableBeaconAcquisition starts beacon acquisition.
func (i *Interface) EnableBeaconAcquisition() models.Status {
	i.Lock()
	defer i.Unlock()
	return i.lw.EnableBeaconAcquisition()
}

// GetLastRXBeacon returns the last received beacon.
func (i *Interface) GetLastRXBeacon() (mac.Beacon, models.Status) {
	i.Lock()
	defer i.Unlock()
	return i.lw.GetLastRXBeacon()
}
