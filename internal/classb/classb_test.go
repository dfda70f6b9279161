package classb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/lorawan"
)

func TestPingNb(t *testing.T) {
	assert := require.New(t)

	tests := []struct {
		Periodicity uint8
		PingNb      int
	}{
		{Periodicity: 0, PingNb: 128},
		{Periodicity: 1, PingNb: 64},
		{Periodicity: 3, PingNb: 16},
		{Periodicity: 7, PingNb: 1},
	}

	for _, test := range tests {
		nb, err := PingNb(test.Periodicity)
		assert.NoError(err)
		assert.Equal(test.PingNb, nb)
	}

	_, err := PingNb(8)
	assert.Error(err)
}

func TestBeaconStart(t *testing.T) {
	assert := require.New(t)

	assert.EqualValues(0, BeaconStartBefore(0))
	assert.EqualValues(0, BeaconStartBefore(127999))
	assert.EqualValues(128000, BeaconStartBefore(128000))
	assert.EqualValues(128000, BeaconStartBefore(200000))

	assert.EqualValues(128000, NextBeaconStart(0))
	assert.EqualValues(256000, NextBeaconStart(128000))
}

func TestGetPingOffset(t *testing.T) {
	for k := uint(0); k < 8; k++ {
		var beacon time.Duration
		pingNb := 1 << k
		pingPeriod := pingPeriodBase / pingNb

		for test := 0; test < 10000; test++ {
			offset, err := GetPingOffset(beacon, lorawan.DevAddr{}, pingNb)
			if err != nil {
				t.Fatal(err)
			}

			if offset > pingPeriod-1 {
				t.Errorf("unexpected offset %d at pingNb %d test %d", offset, pingNb, test)
			}

			beacon += BeaconPeriod
		}
	}
}

func TestGetNextPingSlotAfter(t *testing.T) {
	tests := []struct {
		After                    time.Duration
		DevAddr                  lorawan.DevAddr
		PingNb                   int
		ExpectedGPSEpochDuration string
	}{
		{
			After:                    0,
			DevAddr:                  lorawan.DevAddr{},
			PingNb:                   1,
			ExpectedGPSEpochDuration: "1m14.3s",
		},
		{
			After:                    2 * time.Minute,
			DevAddr:                  lorawan.DevAddr{},
			PingNb:                   1,
			ExpectedGPSEpochDuration: "3m5.62s",
		},
	}

	for _, test := range tests {
		assert := require.New(t)

		d, err := GetNextPingSlotAfter(test.After, test.DevAddr, test.PingNb)
		assert.NoError(err)
		assert.Equal(test.ExpectedGPSEpochDuration, d.String())
		assert.Greater(int64(d), int64(test.After))
	}
}
