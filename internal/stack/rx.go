package stack

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
)

// rxMessage is the single inbound received-but-unread message. The buffer
// points into MAC-owned storage; prevReadSize and pendingSize implement the
// partial-read cursor.
type rxMessage struct {
	buffer       []byte
	port         uint8
	msgType      mac.McpsType
	receiveReady bool
	prevReadSize int
	pendingSize  int
}

// HandleRX drains the pending downlink into the given buffer. The first call
// records the total size; subsequent calls advance the read cursor until the
// payload is fully consumed, at which point receiveReady is cleared. With
// validateParams the call refuses (WOULD_BLOCK) when port or flags do not
// match the pending message.
func (s *Stack) HandleRX(data []byte, port *uint8, flags *models.MsgFlag, validateParams bool) (int16, models.Status) {
	if s.state == deviceStateNotInitialized {
		return 0, models.StatusNotInitialized
	}

	if !s.session.Active {
		return 0, models.StatusNoActiveSessions
	}

	// no message to read
	if !s.rxMsg.receiveReady {
		return 0, models.StatusWouldBlock
	}

	if len(data) == 0 {
		return 0, models.StatusParameterInvalid
	}

	receivedFlags := convertToMsgFlag(s.rxMsg.msgType)
	if validateParams {
		if s.rxMsg.port != *port || *flags&receivedFlags == 0 {
			return 0, models.StatusWouldBlock
		}
	}

	// report the actual values back to the caller
	*port = s.rxMsg.port
	*flags = receivedFlags

	base := s.rxMsg.buffer
	baseSize := len(base)
	readComplete := false

	if s.rxMsg.pendingSize == 0 {
		s.rxMsg.pendingSize = len(base)
		s.rxMsg.prevReadSize = 0
	}

	if s.rxMsg.prevReadSize == 0 && len(base) <= len(data) {
		copy(data, base)
		readComplete = true
	} else if s.rxMsg.pendingSize > len(data) {
		s.rxMsg.pendingSize -= len(data)
		baseSize = len(data)
		copy(data, base[s.rxMsg.prevReadSize:s.rxMsg.prevReadSize+baseSize])
		s.rxMsg.prevReadSize += baseSize
	} else {
		baseSize = s.rxMsg.pendingSize
		copy(data, base[s.rxMsg.prevReadSize:s.rxMsg.prevReadSize+baseSize])
		readComplete = true
	}

	if readComplete {
		s.rxMsg.buffer = nil
		s.rxMsg.pendingSize = 0
		s.rxMsg.receiveReady = false
	}

	return int16(baseSize), models.StatusOK
}

// processReception handles a deferred rx_done edge.
func (s *Stack) processReception(payload []byte, rssi int16, snr int8) {
	s.state = deviceStateReceiving

	s.flags.clear(flagMsgReceived)
	s.flags.clear(flagTXDone)
	s.flags.clear(flagRetryExhausted)

	s.rejoinType0Counter++

	joined := s.mac.NwkJoined()
	rxSlot := s.mac.CurrentSlot()

	s.mac.OnRadioRXDone(payload, rssi, snr, s.rxTimestamp, s.mlmeConfirmHandler)

	if !joined {
		s.releaseRXPayload()
		return
	}

	// while a rejoin is in flight, reception results are dropped at the
	// entry
	if s.flags.has(flagRejoinInProgress) {
		s.flags.clear(flagRejoinInProgress)
		s.releaseRXPayload()
		return
	}

	s.makeRXMetadataAvailable()

	switch rxSlot {
	case mac.RXSlot1, mac.RXSlot2, mac.RXSlotClassC:
		// Post-process the transmission this reception responds to. A
		// Class-C downlink may arrive with no uplink in flight; there
		// is nothing to post-process then, and no TX event may fire.
		if s.mac.TXOngoing() {
			s.postProcessTXWithReception()
		}

		// handle any pending MCPS indication
		if s.mac.McpsIndication().Pending {
			s.mac.PostProcessMcpsInd()
			s.flags.set(flagMsgReceived)
			s.stateController(deviceStateStatusCheck)
		}

		// the cycle completes only when TX post-processing is done
		if s.flags.has(flagTXDone) {
			s.stateMachineRunToCompletion()
		}

		// suppress the scheduling-uplink indication while an automatic
		// uplink is already awaiting its ack
		if s.mac.MlmeIndication().Pending && !s.automaticUplinkOngoing {
			log.Debug("stack: mlme indication pending")
			s.mac.PostProcessMlmeInd()
			s.mlmeIndicationHandler()
		}

		// the rejoin engine is inactive on pre-1.1 servers and for ABP
		// activations
		if s.version == mac.LW11 && s.flags.has(flagUsingOTAA) {
			s.pollRejoin()
		}
	case mac.RXSlotBeacon:
		// beacon handling happens in the beacon tracker
	case mac.RXSlotUnicastPingSlot, mac.RXSlotMulticastPingSlot:
		s.flags.set(flagMsgReceived)
		s.stateController(deviceStateStatusCheck)
	default:
		log.WithField("rx_slot", rxSlot).Error("stack: reception in unexpected rx slot")
	}

	s.releaseRXPayload()
}

// processReceptionTimeout handles the deferred rx_timeout / rx_error edge.
// A CRC error (isTimeout=false) is treated exactly as if nothing was
// received.
func (s *Stack) processReceptionTimeout(isTimeout bool) {
	s.rejoinType0Counter++

	rxSlot := s.mac.CurrentSlot()

	s.mac.OnRadioRXTimeout(isTimeout)

	if rxSlot == mac.RXSlot2 && !s.mac.NwkJoined() {
		s.stateController(deviceStateJoining)
		return
	}

	// After the RX windows are done with: an unconfirmed message is
	// complete, a confirmed message is retransmitted while retries
	// remain. Post-processing drives the status check itself; running it
	// again here would fire a terminal TX event while a retransmission
	// is still in flight. This block runs for every RX2 timeout the MAC
	// reports, in Class C as well.
	if rxSlot == mac.RXSlot2 {
		s.postProcessTXNoReception()

		if s.version == mac.LW11 && s.flags.has(flagUsingOTAA) {
			s.pollRejoin()
		}
	}
}

func (s *Stack) releaseRXPayload() {
	atomic.StoreInt32(&s.rxPayloadInUse, 0)
}

// mcpsIndicationHandler surfaces a processed downlink to the application.
func (s *Stack) mcpsIndicationHandler() {
	ind := s.mac.McpsIndication()
	if ind.Status != mac.InfoStatusOK {
		log.WithField("status", ind.Status).Error("stack: rx error indication")
		s.sendEvent(models.EventRxError)
		return
	}

	s.session.DownlinkCounter = ind.DLFrameCounter

	// compliance-test traffic is dropped silently unless the compliance
	// port is open
	if ind.Port == complianceTestingPort && !s.conf.ComplianceTest {
		return
	}

	if ind.DataReceived {
		s.rxMsg = rxMessage{
			buffer:       ind.Buffer,
			port:         ind.Port,
			msgType:      ind.Type,
			receiveReady: true,
		}

		log.WithFields(log.Fields{
			"size": len(ind.Buffer),
			"port": ind.Port,
		}).Debug("stack: packet received")
		s.sendEvent(models.EventRxDone)
	}

	// An uplink is owed when the network set the FPending bit, or (Class
	// C) a confirmed downlink needs its ack: 1.1 forbids the network to
	// send further confirmed traffic until then.
	if (s.mac.DeviceClass() != models.ClassC && ind.FPending) ||
		(s.mac.DeviceClass() == models.ClassC && ind.Type == mac.McpsConfirmed) {
		if s.conf.AutomaticUplink {
			// skip when a previous automatic uplink is still
			// unacknowledged
			if !s.automaticUplinkOngoing {
				log.Debug("stack: sending empty uplink message")
				s.automaticUplinkOngoing = true
				port := ind.Port
				s.queue.Post(func() {
					s.sendAutomaticUplinkMessage(port)
				})
			}
		} else {
			s.sendEvent(models.EventUplinkRequired)
		}
	}
}

// mlmeIndicationHandler handles management requests pushed by the network.
func (s *Stack) mlmeIndicationHandler() {
	if s.mac.MlmeIndication().Type == mac.MlmeScheduleUplink {
		// the MAC asks for an uplink as soon as possible
		if s.conf.AutomaticUplink {
			s.automaticUplinkOngoing = true
			log.Debug("stack: sending empty uplink to port 0 to acknowledge mac commands")
			s.queue.Post(func() {
				s.sendAutomaticUplinkMessage(0)
			})
		} else {
			s.sendEvent(models.EventUplinkRequired)
		}
		return
	}

	log.Error("stack: unknown mlme indication type")
}
