// Package classb implements the Class-B beacon and ping-slot timing
// calculations used by the beacon tracker and the simulated lower MAC.
package classb

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-device-stack/internal/gps"
	"github.com/brocaar/lorawan"
)

// BeaconPeriod is the interval between two beacons.
const BeaconPeriod = 128 * time.Second

const (
	beaconReserved = 2120 * time.Millisecond
	pingPeriodBase = 1 << 12
	slotLen        = 30 * time.Millisecond
)

// PingNb returns the number of ping slots per beacon period for the given
// ping-slot periodicity (0..7).
func PingNb(periodicity uint8) (int, error) {
	if periodicity > 7 {
		return 0, fmt.Errorf("periodicity must be in [0, 7], got: %d", periodicity)
	}
	return 1 << (7 - periodicity), nil
}

// BeaconStartBefore returns the start of the beacon period containing the
// given GPS time.
func BeaconStartBefore(t gps.Millis) gps.Millis {
	d := t.Duration()
	return gps.Millis((d - (d % BeaconPeriod)) / time.Millisecond)
}

// NextBeaconStart returns the start of the first beacon period strictly
// after the given GPS time.
func NextBeaconStart(t gps.Millis) gps.Millis {
	return BeaconStartBefore(t) + gps.Millis(BeaconPeriod/time.Millisecond)
}

// GetPingOffset returns the ping offset for the given beacon.
func GetPingOffset(beacon time.Duration, devAddr lorawan.DevAddr, pingNb int) (int, error) {
	if pingNb == 0 {
		return 0, errors.New("pingNb must be > 0")
	}

	if beacon%BeaconPeriod != 0 {
		return 0, fmt.Errorf("beacon must be a multiple of %s", BeaconPeriod)
	}

	devAddrBytes, err := devAddr.MarshalBinary()
	if err != nil {
		return 0, errors.Wrap(err, "marshal devaddr error")
	}

	pingPeriod := pingPeriodBase / pingNb
	beaconTime := uint32(int64(beacon/time.Second) % (1 << 32))

	key := lorawan.AES128Key{} // 16 x 0x00
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return 0, errors.Wrap(err, "new cipher error")
	}

	b := make([]byte, len(key))
	rand := make([]byte, len(key))

	binary.LittleEndian.PutUint32(b[0:4], beaconTime)
	copy(b[4:8], devAddrBytes)
	block.Encrypt(rand, b)

	return (int(rand[0]) + int(rand[1])*256) % pingPeriod, nil
}

// GetNextPingSlotAfter returns the next ping slot occurring after the given
// gps epoch timestamp.
func GetNextPingSlotAfter(afterGPSEpochTS time.Duration, devAddr lorawan.DevAddr, pingNb int) (time.Duration, error) {
	if pingNb == 0 {
		return 0, errors.New("pingNb must be > 0")
	}
	beaconStart := afterGPSEpochTS - (afterGPSEpochTS % BeaconPeriod)
	pingPeriod := pingPeriodBase / pingNb

	for {
		pingOffset, err := GetPingOffset(beaconStart, devAddr, pingNb)
		if err != nil {
			return 0, err
		}

		for n := 0; n < pingNb; n++ {
			gpsEpochTime := beaconStart + beaconReserved + (time.Duration(pingOffset+n*pingPeriod) * slotLen)

			if gpsEpochTime > afterGPSEpochTS {
				return gpsEpochTime, nil
			}
		}

		beaconStart += BeaconPeriod
	}
}
