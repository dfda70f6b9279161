package stack

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/monitoring"
	"github.com/brocaar/lorawan"
)

// mlmeConfirmHandler dispatches a management-exchange confirmation.
func (s *Stack) mlmeConfirmHandler(confirm mac.MlmeConfirm) {
	switch confirm.Type {
	case mac.MlmeLinkCheck:
		if confirm.Status == mac.InfoStatusOK && s.callbacks.LinkCheckResp != nil {
			cb := s.callbacks.LinkCheckResp
			margin, gateways := confirm.DemodMargin, confirm.NbGateways
			s.queue.Post(func() {
				cb(margin, gateways)
			})
		}
	case mac.MlmeReset:
		s.resetIndRequested = false
	case mac.MlmeRekey:
		s.rekeyIndNeeded = false
		s.rekeyIndCounter = 0
	case mac.MlmeDeviceMode:
		s.handleDeviceModeConfirm(confirm)
	case mac.MlmeJoinAccept:
		s.handleJoinAcceptConfirm(confirm)
	case mac.MlmeForceRejoin:
		s.handleForceRejoin(confirm)
	case mac.MlmePingSlotInfo:
		if s.pingSlotInfoRequested {
			s.pingSlotInfoRequested = false
			s.sendEvent(models.EventPingSlotInfoSynched)
		}
	case mac.MlmeBeaconAcquisition:
		if confirm.Status == mac.InfoStatusOK {
			s.sendEvent(models.EventBeaconFound)
		} else {
			s.sendEvent(models.EventBeaconNotFound)
		}
	}
}

// handleDeviceModeConfirm completes a LoRaWAN 1.1 class change: the class is
// swapped only after the network confirmed the announced mode.
func (s *Stack) handleDeviceModeConfirm(confirm mac.MlmeConfirm) {
	s.deviceModeIndNeeded = false

	if !s.deviceModeIndOngoing {
		return
	}
	s.deviceModeIndOngoing = false

	if confirm.Class != s.newClass {
		s.sendEvent(models.EventServerDoesNotSupportClassInUse)
		return
	}

	if st := s.mac.SetDeviceClass(s.newClass, s.postProcessTXNoReception); st != models.StatusOK {
		log.WithFields(log.Fields{
			"class":  s.newClass,
			"status": st,
		}).Error("stack: device class switch failed")
		return
	}

	s.sendEvent(models.EventClassChanged)
	s.sendEvent(models.EventServerAcceptedClassInUse)
}

func (s *Stack) handleJoinAcceptConfirm(confirm mac.MlmeConfirm) {
	switch confirm.Status {
	case mac.InfoStatusOK:
		if s.mac.ServerType() == mac.LW11 {
			s.rekeyIndNeeded = true
			s.rekeyIndCounter = 0
			// The accept may belong to a rejoin type 1 pointing to a
			// different server; the forced-rejoin schedule is left
			// untouched on purpose.
		} else {
			if s.forcedTimer != nil {
				s.forcedTimer.Stop()
			}
			if s.rejoinType0Timer != nil {
				s.rejoinType0Timer.Stop()
			}
		}
		s.stateController(deviceStateConnected)
	case mac.InfoStatusCryptoFail:
		// fatal for this session
		s.state = deviceStateIdle
		log.Error("stack: joining abandoned, crypto error")
		s.sendEvent(models.EventCryptoError)
	default:
		if s.mac.ServerType() == mac.LW11 && s.flags.has(flagRejoinInProgress) {
			// a failed rejoin is neither retried nor surfaced
			return
		}

		// non-fatal: retry while the MAC allows
		s.state = deviceStateAwaitingJoinAccept
		s.stateController(deviceStateJoining)
	}
}

// handleForceRejoin applies a network-mandated ForceRejoinReq: one immediate
// attempt of the requested type, then max_retries attempts at
// ((2^period)*32 + jitter) second intervals, at the mandated data rate. A
// type-1 request is rewritten to type-0 (LoRaWAN 1.1, 5.13).
func (s *Stack) handleForceRejoin(confirm mac.MlmeConfirm) {
	if confirm.RejoinType > lorawan.RejoinRequestType2 || s.mac.ServerType() != mac.LW11 {
		return
	}

	s.forcedDataRate = confirm.DataRate
	s.forcedPeriod = time.Duration((1<<confirm.Period)*32+s.jitter(33)) * time.Second
	s.forcedRetryCount = confirm.MaxRetries
	s.forcedRejoinType = confirm.RejoinType
	if confirm.RejoinType == lorawan.RejoinRequestType1 {
		s.forcedRejoinType = lorawan.RejoinRequestType0
	}

	s.resetForcedRejoin()
	s.processRejoin(s.forcedRejoinType, true)
	if s.forcedRetryCount > 0 {
		s.forcedTimer.Start(s.forcedPeriod)
	}
}

// pollRejoin runs on every uplink post-processing cycle and starts a
// periodic rejoin when one is due. A due type-1 takes precedence over the
// count-based type-0.
func (s *Stack) pollRejoin() {
	if s.flags.has(flagRejoinInProgress) {
		return
	}

	if s.queue.Clock().Now()-s.rejoinType1Stamp > s.rejoinType1SendPeriod {
		s.flags.set(flagRejoinInProgress)
		s.rejoinType1Stamp = s.queue.Clock().Now()
		s.queue.Post(func() {
			s.processRejoin(lorawan.RejoinRequestType1, false)
		})
		return
	}

	_, maxCount := s.mac.RejoinParameters()
	if s.rejoinType0Counter >= maxCount {
		s.rejoinType0Counter = 0
		// handled exactly like a rejoin-type-0 timer expiry
		s.flags.set(flagRejoinInProgress)
		s.queue.Post(s.processRejoinType0)
	}
}

func (s *Stack) processRejoin(rejoinType lorawan.JoinType, forced bool) {
	if s.mac.ServerType() != mac.LW11 {
		return
	}

	monitoring.RejoinStarted(rejoinTypeLabel(rejoinType))
	s.mac.Rejoin(rejoinType, forced, s.forcedDataRate)

	if rejoinType == lorawan.RejoinRequestType0 {
		s.rejoinType0Timer.Stop()
		s.rejoinType0Counter = 0
		maxTime, _ := s.mac.RejoinParameters()
		s.rejoinType0Timer.Start(time.Duration(maxTime) * time.Second)
	}
}

func (s *Stack) processRejoinType0() {
	if s.mac.ServerType() == mac.LW11 {
		s.processRejoin(lorawan.RejoinRequestType0, false)
	}
}

func (s *Stack) rejoinType0TimerExpiry() {
	s.processRejoinType0()
}

func (s *Stack) resetForcedRejoin() {
	s.forcedCounter = 0
	s.forcedTimer.Stop()
}

func (s *Stack) forcedTimerExpiry() {
	if s.mac.ServerType() != mac.LW11 {
		return
	}

	if s.forcedCounter < s.forcedRetryCount {
		s.forcedCounter++
		s.processRejoin(s.forcedRejoinType, true)
		s.forcedTimer.Start(s.forcedPeriod)
	} else {
		s.resetForcedRejoin()
	}
}

func rejoinTypeLabel(t lorawan.JoinType) string {
	switch t {
	case lorawan.RejoinRequestType0:
		return "0"
	case lorawan.RejoinRequestType1:
		return "1"
	case lorawan.RejoinRequestType2:
		return "2"
	default:
		return "unknown"
	}
}

/*
 * Sticky MAC command requests.
 */

// SetLinkCheckRequest stages a link-check request on every uplink until
// removed. A link-check response callback must be registered first.
func (s *Stack) SetLinkCheckRequest() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if s.callbacks.LinkCheckResp == nil {
		log.Error("stack: a link-check response callback must be registered first")
		return models.StatusParameterInvalid
	}

	s.linkCheckRequested = true
	return models.StatusOK
}

// RemoveLinkCheckRequest cancels the sticky link-check request.
func (s *Stack) RemoveLinkCheckRequest() {
	s.linkCheckRequested = false
}

// SetDeviceTimeRequest stages a device-time request on every uplink until
// removed.
func (s *Stack) SetDeviceTimeRequest() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if !s.mac.NwkJoined() {
		return models.StatusNoNetworkJoined
	}

	s.deviceTimeRequested = true
	return models.StatusOK
}

// RemoveDeviceTimeRequest cancels the sticky device-time request.
func (s *Stack) RemoveDeviceTimeRequest() {
	s.deviceTimeRequested = false
}

// handleDeviceTimeSync applies a DeviceTimeAns. The network stamps the end
// of the uplink, so the elapsed time since the transmission is compensated
// before the GPS clock is set.
func (s *Stack) handleDeviceTimeSync(gpsTime gps.Millis) {
	s.deviceTimeRequested = false

	uplinkElapsed := s.queue.Clock().Now() - s.txTimestamp
	s.gpsTime.Set(gpsTime + gps.Millis(uplinkElapsed/time.Millisecond))
	s.sendEvent(models.EventDeviceTimeSynched)
}

/*
 * GPS time.
 */

// GetCurrentGPSTime returns the current GPS time, zero when unknown.
func (s *Stack) GetCurrentGPSTime() gps.Millis {
	if s.gpsTime == nil {
		return 0
	}
	return s.gpsTime.Now()
}

// SetCurrentGPSTime sets the GPS time reference (application clock sync).
func (s *Stack) SetCurrentGPSTime(gpsTime gps.Millis) {
	if s.gpsTime == nil {
		return
	}
	s.gpsTime.Set(gpsTime)
}
