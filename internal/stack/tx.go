package stack

import (
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
)

// txMessage is the single outbound in-flight message. The payload is an
// owned copy of the application buffer.
type txMessage struct {
	port    uint8
	payload []byte
	flags   models.MsgFlag
}

// HandleTX validates and stages an uplink: flags must name exactly one
// message type, sticky MAC commands are attached, and the message moves to
// the scheduling state. On success the number of accepted payload bytes is
// returned.
func (s *Stack) HandleTX(port uint8, data []byte, flags models.MsgFlag, nullAllowed, allowPort0 bool) (int16, models.Status) {
	if s.state == deviceStateNotInitialized {
		return 0, models.StatusNotInitialized
	}

	if !nullAllowed && data == nil {
		return 0, models.StatusParameterInvalid
	}

	if s.flags.has(flagRejoinInProgress) {
		return 0, models.StatusBusy
	}

	// ResetInd is only staged for ABP devices after connect, until
	// ResetConf is received.
	if s.resetIndRequested {
		s.mac.SetupResetIndication()
	} else if s.rekeyIndNeeded {
		if s.rekeyIndCounter < s.mac.ADRAckLimit() {
			s.mac.SetupRekeyIndication()
			s.rekeyIndCounter++
		} else {
			// the server never confirmed the rekey: the join is
			// considered failed
			s.rekeyIndNeeded = false
			s.sendEvent(models.EventJoinFailure)
			s.state = deviceStateIdle
		}
	}

	if s.deviceModeIndNeeded {
		s.mac.SetupDeviceModeIndication(s.newClass)
	}

	if !s.session.Active {
		return 0, models.StatusNoActiveSessions
	}

	if s.mac.TXOngoing() {
		return 0, models.StatusWouldBlock
	}

	// sticky requests remain attached to every uplink until the
	// application removes them
	if s.linkCheckRequested {
		s.mac.SetupLinkCheckRequest()
	}

	if s.deviceTimeRequested {
		s.mac.SetupDeviceTimeRequest(s.handleDeviceTimeSync)
	}

	if s.pingSlotInfoRequested {
		s.mac.AddPingSlotInfoReq(s.pingSlotPeriodicity)
	}

	s.qosCnt = 1

	if !s.mac.NwkJoined() {
		return 0, models.StatusNoNetworkJoined
	}

	if st := s.setApplicationPort(port, allowPort0); st != models.StatusOK {
		log.WithField("port", port).Error("stack: illegal application port definition")
		return 0, st
	}

	// the message-type flags are mutually exclusive, and multicast is not
	// a valid uplink type
	switch flags & models.FlagMask {
	case models.FlagUnconfirmed, models.FlagConfirmed, models.FlagProprietary:
	default:
		log.Error("stack: invalid send flags")
		return 0, models.StatusParameterInvalid
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	s.txMsg = txMessage{
		port:    port,
		payload: payload,
		flags:   flags & models.FlagMask,
	}

	length := s.mac.PrepareOngoingTX(port, payload, s.txMsg.flags, s.numRetry)
	if length < 0 {
		return 0, models.Status(length)
	}

	if st := s.stateController(deviceStateScheduling); st != models.StatusOK {
		return 0, st
	}

	// the accepted length is reported back; the application takes care of
	// any pending remainder
	return length, models.StatusOK
}

// StopSending clears the TX pipe, provided the backoff timer has not yet
// armed the radio. A cancelled confirmed message is not retried.
func (s *Stack) StopSending() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	st := s.mac.ClearTXPipe()
	if st == models.StatusOK {
		s.flags.clear(flagTXDone)
		s.mac.SetTXOngoing(false)
		s.state = deviceStateIdle
		return models.StatusOK
	}

	return st
}

// processTransmission handles the deferred tx_done edge.
func (s *Stack) processTransmission() {
	log.Debug("stack: transmission completed")

	s.makeTXMetadataAvailable()

	if s.state == deviceStateJoining {
		s.state = deviceStateAwaitingJoinAccept
	}

	if s.state == deviceStateSending {
		if s.mac.McpsConfirmation().Type == mac.McpsConfirmed {
			log.Debug("stack: awaiting ack")
			s.state = deviceStateAwaitingAck
		}
	}

	s.mac.OnRadioTXDone(s.txTimestamp)
}

// processTransmissionTimeout handles the deferred tx_timeout edge. A radio
// transmission timeout is fatal for the in-flight message.
func (s *Stack) processTransmissionTimeout() {
	log.Debug("stack: tx timeout")
	s.mac.OnRadioTXTimeout()
	s.flags.clear(flagTXDone)

	if s.state == deviceStateJoining {
		s.state = deviceStateIdle
		log.Error("stack: joining abandoned, radio failed to transmit")
		s.sendEvent(models.EventTxTimeout)
	} else {
		s.stateController(deviceStateStatusCheck)
	}

	s.stateMachineRunToCompletion()
}

// postProcessTXWithReception post-processes the prior transmission when one
// of the RX windows produced a frame.
func (s *Stack) postProcessTXWithReception() {
	if s.mac.McpsConfirmation().Type == mac.McpsConfirmed {
		// Without an ack the MAC retransmits after its ack timeout;
		// with an ack the cycle is complete.
		if s.mac.McpsIndication().AckReceived {
			s.flags.set(flagTXDone)
			s.flags.clear(flagRetryExhausted)
			log.WithField("nb_trials", s.mac.McpsConfirmation().NbRetries).Debug("stack: ack ok")
			s.mac.PostProcessMcpsReq()
			s.makeTXMetadataAvailable()
			s.stateController(deviceStateStatusCheck)
		} else if !s.mac.ContinueSending() && s.mac.CurrentSlot() != mac.RXSlot1 {
			// RX1 non-reception is not final; RX2 still follows
			log.WithField("class", s.mac.DeviceClass()).Error("stack: retries exhausted")
			s.flags.clear(flagTXDone)
			s.flags.set(flagRetryExhausted)
			s.mac.PostProcessMcpsReq()
			s.makeTXMetadataAvailable()
			s.stateController(deviceStateStatusCheck)
		}
		return
	}

	// Unconfirmed case: RX slots were turned off by the valid reception.
	// QOS is not applied to the post-processing of the previous message,
	// as the QOS instruction arrived in response to that very message.
	prevQOS := s.mac.PrevQOSLevel()
	qos := s.mac.QOSLevel()

	if qos > s.conf.QOS && s.qosCnt < qos && prevQOS == qos {
		s.flags.clear(flagTXDone)
		s.queue.Post(func() {
			s.stateController(deviceStateScheduling)
		})
		s.qosCnt++
		log.WithField("count", s.qosCnt).Info("stack: qos repeated transmission queued")
	} else {
		s.mac.PostProcessMcpsReq()
		s.flags.set(flagTXDone)
		s.makeTXMetadataAvailable()
		s.stateController(deviceStateStatusCheck)
	}
}

// postProcessTXNoReception post-processes the prior transmission when the
// final RX window stayed empty.
func (s *Stack) postProcessTXNoReception() {
	if s.flags.has(flagRejoinInProgress) {
		s.flags.clear(flagRejoinInProgress)
		s.stateMachineRunToCompletion()
		return
	}

	if s.mac.McpsConfirmation().Type == mac.McpsConfirmed {
		if s.mac.ContinueSending() {
			s.flags.clear(flagTXDone)
			s.flags.clear(flagRetryExhausted)
			return
		}

		log.WithField("class", s.mac.DeviceClass()).Error("stack: retries exhausted")
		s.flags.clear(flagTXDone)
		s.flags.set(flagRetryExhausted)
	} else {
		s.flags.set(flagTXDone)

		prevQOS := s.mac.PrevQOSLevel()
		qos := s.mac.QOSLevel()

		if qos > s.conf.QOS && prevQOS == qos && s.qosCnt < qos {
			s.queue.Post(func() {
				s.stateController(deviceStateScheduling)
			})
			s.qosCnt++
			log.WithField("count", s.qosCnt).Info("stack: qos repeated transmission queued")
			s.stateMachineRunToCompletion()
			return
		}
	}

	s.mac.PostProcessMcpsReq()
	s.makeTXMetadataAvailable()
	s.stateController(deviceStateStatusCheck)

	s.stateMachineRunToCompletion()
}

// handleSchedulingFailure is invoked by the MAC when a deferred transmission
// cannot be scheduled.
func (s *Stack) handleSchedulingFailure() {
	log.Error("stack: failed to schedule transmission")
	s.stateController(deviceStateStatusCheck)
	s.stateMachineRunToCompletion()
}

// mcpsConfirmHandler translates the MCPS confirmation into the terminal
// event of the transmit cycle. Exactly one terminal TX event is delivered
// per operation.
func (s *Stack) mcpsConfirmHandler() {
	confirm := s.mac.McpsConfirmation()

	switch confirm.Status {
	case mac.InfoStatusOK:
		s.session.UplinkCounter = confirm.ULFrameCounter
		s.sendEvent(models.EventTxDone)
	case mac.InfoStatusTXTimeout:
		log.Error("stack: fatal error, radio failed to transmit")
		s.sendEvent(models.EventTxTimeout)
	case mac.InfoStatusTXDRPayloadSizeError:
		s.sendEvent(models.EventTxSchedulingError)
	case mac.InfoStatusCryptoFail:
		s.sendEvent(models.EventTxCryptoError)
	default:
		// no ack after the configured number of retries
		s.sendEvent(models.EventTxError)
	}
}

// sendAutomaticUplinkMessage queues an empty confirmed uplink, used to
// acknowledge MAC commands and flush FPending data.
func (s *Stack) sendAutomaticUplinkMessage(port uint8) {
	// silently ignored when the application is already sending
	_, st := s.HandleTX(port, nil, models.FlagConfirmed, true, true)
	if st == models.StatusWouldBlock {
		s.automaticUplinkOngoing = false
	} else if st != models.StatusOK {
		log.WithField("status", st).Debug("stack: failed to generate automatic uplink")
		s.sendEvent(models.EventAutomaticUplinkError)
	}
}

// convertToMsgFlag maps an MCPS type to its message flag. The mapping is
// bijective on the four message types.
func convertToMsgFlag(t mac.McpsType) models.MsgFlag {
	switch t {
	case mac.McpsUnconfirmed:
		return models.FlagUnconfirmed
	case mac.McpsConfirmed:
		return models.FlagConfirmed
	case mac.McpsMulticast:
		return models.FlagMulticast
	case mac.McpsProprietary:
		return models.FlagProprietary
	default:
		log.WithField("type", t).Error("stack: unknown message type")
		return models.FlagUnconfirmed
	}
}
