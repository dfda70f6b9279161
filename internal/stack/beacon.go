package stack

import (
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
)

// SetDeviceClass requests a device class change. Switching to Class B
// requires an acquired beacon. On a LoRaWAN 1.1 server a non-B change is
// announced with a DeviceModeInd on the next uplink and only applied after
// the DeviceModeConf arrives.
func (s *Stack) SetDeviceClass(class models.DeviceClass) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if s.mac.DeviceClass() == class {
		return models.StatusOK
	}

	if class == models.ClassB {
		if !s.conf.ClassB.Enabled {
			return models.StatusUnsupported
		}
		if !s.beaconAcquired {
			return models.StatusNoBeaconFound
		}
	}

	if s.mac.ServerType() == mac.LW11 && class != models.ClassB {
		s.newClass = class
		s.deviceModeIndNeeded = true
		s.deviceModeIndOngoing = true
		return models.StatusOK
	}

	return s.mac.SetDeviceClass(class, s.postProcessTXNoReception)
}

// EnableBeaconAcquisition starts beacon acquisition: a continuous window on
// the beacon channel when GPS time is unknown, or a narrow window around the
// computed beacon instant otherwise. The result arrives as a
// BEACON_FOUND / BEACON_NOT_FOUND event.
func (s *Stack) EnableBeaconAcquisition() models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	return s.mac.EnableBeaconAcquisition(s.processBeaconEvent)
}

// GetLastRXBeacon returns the last received beacon frame.
func (s *Stack) GetLastRXBeacon() (mac.Beacon, models.Status) {
	if s.state == deviceStateNotInitialized {
		return mac.Beacon{}, models.StatusNotInitialized
	}

	return s.mac.LastRXBeacon()
}

// AddPingSlotInfoRequest stages a sticky ping-slot-info request for the
// given periodicity (0..7). Changing the periodicity is only allowed in
// Class A.
func (s *Stack) AddPingSlotInfoRequest(periodicity uint8) models.Status {
	if s.state == deviceStateNotInitialized {
		return models.StatusNotInitialized
	}

	if s.mac.DeviceClass() != models.ClassA {
		return models.StatusNoOp
	}

	if periodicity > 7 {
		return models.StatusParameterInvalid
	}

	if st := s.mac.AddPingSlotInfoReq(periodicity); st != models.StatusOK {
		return st
	}

	s.pingSlotPeriodicity = periodicity
	s.pingSlotInfoRequested = true
	return models.StatusOK
}

// RemovePingSlotInfoRequest cancels the sticky ping-slot-info request.
func (s *Stack) RemovePingSlotInfoRequest() {
	s.pingSlotInfoRequested = false
}

// processBeaconEvent handles the beacon tracker callbacks from the MAC.
func (s *Stack) processBeaconEvent(status mac.BeaconStatus, beacon *mac.Beacon) {
	switch status {
	case mac.BeaconAcquisitionFailed:
		s.mlmeConfirmHandler(mac.MlmeConfirm{
			Type:   mac.MlmeBeaconAcquisition,
			Status: mac.InfoStatusBeaconNotFound,
		})
	case mac.BeaconAcquisitionSuccess:
		s.lastBeaconRXTime = s.queue.Clock().Now()
		s.beaconAcquired = true
		s.syncGPSTimeFromBeacon(beacon)
		s.mlmeConfirmHandler(mac.MlmeConfirm{
			Type:   mac.MlmeBeaconAcquisition,
			Status: mac.InfoStatusOK,
		})
	case mac.BeaconLock:
		s.lastBeaconRXTime = s.queue.Clock().Now()
		s.syncGPSTimeFromBeacon(beacon)
		s.sendEvent(models.EventBeaconLock)
	case mac.BeaconMiss:
		s.sendEvent(models.EventBeaconMiss)
		// after the beacon-less grace window the device reverts to
		// Class A (LoRaWAN 1.0.3, 12.1)
		if s.mac.DeviceClass() == models.ClassB {
			noBeaconTime := s.queue.Clock().Now() - s.lastBeaconRXTime
			if noBeaconTime >= s.conf.ClassB.BeaconlessPeriod {
				if st := s.mac.SetDeviceClass(models.ClassA, s.postProcessTXNoReception); st != models.StatusOK {
					log.WithField("status", st).Error("stack: switch to class A failed")
				}
				s.beaconAcquired = false
				s.sendEvent(models.EventSwitchClassBToA)
			}
		}
	default:
		log.WithField("status", status).Error("stack: unknown beacon status")
	}
}

// syncGPSTimeFromBeacon refreshes the GPS clock from a received beacon
// timestamp.
func (s *Stack) syncGPSTimeFromBeacon(beacon *mac.Beacon) {
	if beacon == nil || beacon.Time == 0 {
		return
	}
	s.gpsTime.Set(beacon.GPSTime())
}
