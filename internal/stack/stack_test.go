package stack

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/sim"
	"github.com/brocaar/chirpstack-device-stack/internal/test"
)

func TestOTAAJoin(t *testing.T) {
	t.Run("Join success", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, test.GetDeviceConfig())

		assert.Equal(models.StatusConnectInProgress, e.device.Connect())

		// connect while the join is in flight
		assert.Equal(models.StatusBusy, e.device.Connect())

		e.run(7 * time.Second)

		assert.Equal(1, e.rec.count(models.EventConnected))
		assert.EqualValues(0, e.lw.Session().UplinkCounter)
		assert.EqualValues(0, e.lw.Session().DownlinkCounter)
		assert.True(e.lw.Session().Active)

		// connect while connected
		assert.Equal(models.StatusAlreadyConnected, e.device.Connect())
	})

	t.Run("Join accept in RX2 after RX1 timeout", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, test.GetDeviceConfig())
		e.net.JoinWindow = mac.RXSlot2

		assert.Equal(models.StatusConnectInProgress, e.device.Connect())
		e.run(8 * time.Second)

		assert.Equal(1, e.rec.count(models.EventConnected))
	})

	t.Run("Join retries exhausted", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, test.GetDeviceConfig())
		e.net.JoinAcceptOnAttempt = 0

		assert.Equal(models.StatusConnectInProgress, e.device.Connect())
		e.run(25 * time.Second)

		assert.Equal(1, e.rec.count(models.EventJoinFailure))
		assert.False(e.rec.has(models.EventConnected))

		// the stack is idle again and a new attempt may be started
		assert.Equal(models.StatusConnectInProgress, e.device.Connect())
	})

	t.Run("Join accept crypto failure", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, test.GetDeviceConfig())
		e.net.JoinCryptoFail = true

		assert.Equal(models.StatusConnectInProgress, e.device.Connect())
		e.run(7 * time.Second)

		assert.Equal(1, e.rec.count(models.EventCryptoError))
		assert.False(e.rec.has(models.EventConnected))
	})

	t.Run("Join accept on the second attempt", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, test.GetDeviceConfig())
		e.net.JoinAcceptOnAttempt = 2

		assert.Equal(models.StatusConnectInProgress, e.device.Connect())
		e.run(15 * time.Second)

		assert.Equal(1, e.rec.count(models.EventConnected))
	})

	t.Run("Not initialized", func(t *testing.T) {
		assert := require.New(t)

		conf := test.GetDeviceConfig()
		radio := sim.NewRadio(nil)
		lw := New(sim.NewMACLayer(radio, sim.NewNetwork(), mac.LW103), conf)
		device := NewInterface(lw, radio)

		assert.Equal(models.StatusNotInitialized, device.Connect())
	})
}

func TestSend(t *testing.T) {
	t.Run("Unconfirmed uplink", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		n, st := e.device.Send(10, []byte{0x01, 0x02, 0x03}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		assert.EqualValues(3, n)

		e.run(4 * time.Second)

		assert.Equal(1, e.rec.count(models.EventTxDone))
		assert.Equal(1, e.radio.TXCount())

		// the uplink counter moved
		assert.EqualValues(1, e.lw.Session().UplinkCounter)
	})

	t.Run("Confirmed uplink with ack after one retransmission", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.AckOnAttempt = 2

		n, st := e.device.Send(5, []byte{0xde, 0xad}, models.FlagConfirmed)
		assert.Equal(models.StatusOK, st)
		assert.EqualValues(2, n)

		e.run(8 * time.Second)

		assert.Equal(1, e.rec.count(models.EventTxDone))
		assert.Equal(0, e.rec.count(models.EventTxError))
		assert.Equal(2, e.radio.TXCount())
	})

	t.Run("Confirmed uplink with retries exhausted", func(t *testing.T) {
		assert := require.New(t)

		conf := abpConfig()
		conf.ConfirmedMsgRetries = 2
		e := newTestEnv(t, conf)
		e.connect()

		e.net.AckOnAttempt = 0

		_, st := e.device.Send(5, []byte{0xde, 0xad}, models.FlagConfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(15 * time.Second)

		assert.Equal(1, e.rec.count(models.EventTxError))
		assert.Equal(0, e.rec.count(models.EventTxDone))
		assert.Equal(3, e.radio.TXCount()) // initial + 2 retries
	})

	t.Run("Send while tx ongoing", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		_, st = e.device.Send(10, []byte{0x02}, models.FlagUnconfirmed)
		assert.Equal(models.StatusWouldBlock, st)
	})

	t.Run("Send without a session", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusNoActiveSessions, st)
	})

	t.Run("Send validation", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		// nil payload
		_, st := e.device.Send(10, nil, models.FlagUnconfirmed)
		assert.Equal(models.StatusParameterInvalid, st)

		// flags must name exactly one message type
		_, st = e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed|models.FlagConfirmed)
		assert.Equal(models.StatusParameterInvalid, st)

		// multicast is not an uplink type
		_, st = e.device.Send(10, []byte{0x01}, models.FlagMulticast)
		assert.Equal(models.StatusParameterInvalid, st)
	})

	t.Run("Port boundaries", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		tests := []struct {
			Port     uint8
			Expected models.Status
		}{
			{Port: 0, Expected: models.StatusPortInvalid},
			{Port: 1, Expected: models.StatusOK},
			{Port: 223, Expected: models.StatusOK},
			{Port: 224, Expected: models.StatusPortInvalid},
			{Port: 225, Expected: models.StatusPortInvalid},
			{Port: 255, Expected: models.StatusPortInvalid},
		}

		for _, tst := range tests {
			_, st := e.device.Send(tst.Port, []byte{0x01}, models.FlagUnconfirmed)
			assert.Equalf(tst.Expected, st, "port %d", tst.Port)

			if tst.Expected == models.StatusOK {
				e.run(4 * time.Second)
			}
		}
	})

	t.Run("Compliance port follows the compliance flag", func(t *testing.T) {
		assert := require.New(t)

		conf := abpConfig()
		conf.ComplianceTest = true
		e := newTestEnv(t, conf)
		e.connect()

		_, st := e.device.Send(224, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
	})

	t.Run("Payload too large", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		_, st := e.device.Send(10, make([]byte, 240), models.FlagUnconfirmed)
		assert.Equal(models.StatusLengthError, st)
	})

	t.Run("Scheduling failure", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.ScheduleFail = true

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(time.Second)

		assert.Equal(1, e.rec.count(models.EventTxSchedulingError))
		assert.Equal(0, e.radio.TXCount())

		// the pipe is usable again
		e.net.ScheduleFail = false
		_, st = e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(4 * time.Second)
		assert.Equal(1, e.rec.count(models.EventTxDone))
	})

	t.Run("Radio tx timeout is fatal for the message", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.TXFail = true

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(2 * time.Second)

		assert.Equal(1, e.rec.count(models.EventTxTimeout))
		assert.Equal(0, e.rec.count(models.EventTxDone))
	})

	t.Run("QOS repetitions", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.mac.SetQOSLevel(3, 3)

		_, st := e.device.Send(10, []byte{0xaa}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(12 * time.Second)

		assert.Equal(3, e.radio.TXCount())
		assert.Equal(1, e.rec.count(models.EventTxDone))
	})

	t.Run("Confirmed retries clamp", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())

		assert.Equal(models.StatusParameterInvalid, e.device.SetConfirmedMsgRetries(255))
		assert.Equal(models.StatusOK, e.device.SetConfirmedMsgRetries(254))
	})
}

func TestCancelSending(t *testing.T) {
	t.Run("Cancel before the radio is armed", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		// the backoff timer is armed, the radio is not
		left, st := e.device.GetBackoffMetadata()
		assert.Equal(models.StatusOK, st)
		assert.Greater(int64(left), int64(0))

		assert.Equal(models.StatusOK, e.device.CancelSending())

		e.run(4 * time.Second)
		assert.Equal(0, e.radio.TXCount())
		assert.Equal(0, e.rec.count(models.EventTxDone))
	})

	t.Run("Cancel after the radio was armed", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(200 * time.Millisecond)

		assert.Equal(models.StatusBusy, e.device.CancelSending())
	})
}

func TestReceive(t *testing.T) {
	t.Run("Partial receive drains with a cursor", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		payload := make([]byte, 30)
		for i := range payload {
			payload[i] = byte(i)
		}
		e.net.Downlinks = []sim.Downlink{{
			Port: 10,
			Data: payload,
			Type: mac.McpsUnconfirmed,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		e.run(4 * time.Second)

		assert.Equal(1, e.rec.count(models.EventRxDone))

		var got []byte
		buf := make([]byte, 10)
		for i := 0; i < 3; i++ {
			n, st := e.device.Receive(10, buf, models.FlagUnconfirmed)
			assert.Equal(models.StatusOK, st)
			assert.EqualValues(10, n)
			got = append(got, buf[:n]...)
		}

		assert.True(bytes.Equal(payload, got))

		// the message is drained
		n, st := e.device.Receive(10, buf, models.FlagUnconfirmed)
		assert.Equal(models.StatusWouldBlock, st)
		assert.EqualValues(0, n)
	})

	t.Run("Receive in one piece", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Port: 42,
			Data: []byte{0x0a, 0x0b},
			Type: mac.McpsUnconfirmed,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		e.run(4 * time.Second)

		buf := make([]byte, 64)
		n, port, flags, st := e.device.ReceiveAny(buf)
		assert.Equal(models.StatusOK, st)
		assert.EqualValues(2, n)
		assert.EqualValues(42, port)
		assert.Equal(models.FlagUnconfirmed, flags)
		assert.Equal([]byte{0x0a, 0x0b}, buf[:n])
	})

	t.Run("Parameter validation preserves the message", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Port: 10,
			Data: []byte{0x01},
			Type: mac.McpsUnconfirmed,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		e.run(4 * time.Second)

		buf := make([]byte, 8)

		// port mismatch
		_, st = e.device.Receive(11, buf, models.FlagUnconfirmed)
		assert.Equal(models.StatusWouldBlock, st)

		// flag mismatch
		_, st = e.device.Receive(10, buf, models.FlagConfirmed)
		assert.Equal(models.StatusWouldBlock, st)

		// matching parameters deliver
		n, st := e.device.Receive(10, buf, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		assert.EqualValues(1, n)
	})

	t.Run("Receive without a pending message", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		buf := make([]byte, 8)
		_, st := e.device.Receive(10, buf, models.FlagUnconfirmed)
		assert.Equal(models.StatusWouldBlock, st)
	})

	t.Run("FPending triggers an automatic uplink", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Port:     10,
			Data:     []byte{0x01},
			Type:     mac.McpsUnconfirmed,
			FPending: true,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(10 * time.Second)

		// the application sees its own TX_DONE, not the automatic one
		assert.Equal(1, e.rec.count(models.EventTxDone))
		assert.Equal(1, e.rec.count(models.EventRxDone))
		assert.Equal(2, e.radio.TXCount())
	})

	t.Run("MAC scheduling-uplink request triggers a port-0 uplink", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Type:           mac.McpsUnconfirmed,
			ScheduleUplink: true,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(10 * time.Second)

		assert.Equal(2, e.radio.TXCount())
		assert.Equal(1, e.rec.count(models.EventTxDone))
		assert.Equal(0, e.rec.count(models.EventAutomaticUplinkError))
	})

	t.Run("FPending emits UPLINK_REQUIRED when automatic uplink is off", func(t *testing.T) {
		assert := require.New(t)

		conf := abpConfig()
		conf.AutomaticUplink = false
		e := newTestEnv(t, conf)
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Port:     10,
			Data:     []byte{0x01},
			Type:     mac.McpsUnconfirmed,
			FPending: true,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)

		e.run(6 * time.Second)

		assert.Equal(1, e.rec.count(models.EventUplinkRequired))
		assert.Equal(1, e.radio.TXCount())
	})
}

func TestMetadata(t *testing.T) {
	t.Run("TX metadata is consumed on read", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		_, st := e.device.GetTXMetadata()
		assert.Equal(models.StatusMetadataNotAvailable, st)

		_, st = e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		e.run(4 * time.Second)

		md, st := e.device.GetTXMetadata()
		assert.Equal(models.StatusOK, st)
		assert.False(md.Stale)
		assert.Equal(frameAirtimeForTest, md.TXTimeOnAir)

		_, st = e.device.GetTXMetadata()
		assert.Equal(models.StatusMetadataNotAvailable, st)
	})

	t.Run("RX metadata is consumed on read", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())
		e.connect()

		e.net.Downlinks = []sim.Downlink{{
			Port: 10,
			Data: []byte{0x01},
			Type: mac.McpsUnconfirmed,
		}}

		_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
		assert.Equal(models.StatusOK, st)
		e.run(4 * time.Second)

		md, st := e.device.GetRXMetadata()
		assert.Equal(models.StatusOK, st)
		assert.EqualValues(-60, md.RSSI)
		assert.EqualValues(7, md.SNR)

		_, st = e.device.GetRXMetadata()
		assert.Equal(models.StatusMetadataNotAvailable, st)
	})
}

// frameAirtimeForTest mirrors the airtime constant of the simulated radio.
const frameAirtimeForTest = 50 * time.Millisecond

func TestChannelPlan(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())

	plan := mac.ChannelPlan{
		{ID: 3, Frequency: 867100000, DRMin: 0, DRMax: 5},
		{ID: 4, Frequency: 867300000, DRMin: 0, DRMax: 5},
	}
	assert.Equal(models.StatusOK, e.device.SetChannelPlan(plan))

	got, st := e.device.GetChannelPlan()
	assert.Equal(models.StatusOK, st)

	// the returned plan is a superset: default channels plus the plan
	assert.Len(got, 5)
	byID := map[uint8]mac.Channel{}
	for _, c := range got {
		byID[c.ID] = c
	}
	for _, c := range plan {
		assert.Equal(c, byID[c.ID])
	}

	// default channels can not be removed
	assert.Equal(models.StatusParameterInvalid, e.device.RemoveChannel(0))
	assert.Equal(models.StatusOK, e.device.RemoveChannel(3))

	assert.Equal(models.StatusOK, e.device.RemoveChannelPlan())
	got, _ = e.device.GetChannelPlan()
	assert.Len(got, 3)

	// invalid plans
	assert.Equal(models.StatusParameterInvalid, e.device.SetChannelPlan(mac.ChannelPlan{{ID: 0, Frequency: 868100000}}))
	assert.Equal(models.StatusFrequencyInvalid, e.device.SetChannelPlan(mac.ChannelPlan{{ID: 5}}))
	assert.Equal(models.StatusDatarateInvalid, e.device.SetChannelPlan(mac.ChannelPlan{{ID: 5, Frequency: 867500000, DRMin: 3, DRMax: 1}}))
}

func TestDatarate(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())

	assert.Equal(models.StatusOK, e.device.SetDatarate(5))
	assert.Equal(models.StatusDatarateInvalid, e.device.SetDatarate(12))

	assert.Equal(models.StatusOK, e.device.EnableAdaptiveDatarate())
	assert.Equal(models.StatusOK, e.device.DisableAdaptiveDatarate())
}

func TestConvertToMsgFlag(t *testing.T) {
	assert := require.New(t)

	types := []mac.McpsType{
		mac.McpsUnconfirmed,
		mac.McpsConfirmed,
		mac.McpsMulticast,
		mac.McpsProprietary,
	}

	seen := map[models.MsgFlag]bool{}
	for _, typ := range types {
		flag := convertToMsgFlag(typ)
		assert.False(seen[flag], "flag mapping must be bijective")
		seen[flag] = true
		assert.NotZero(flag & models.FlagMask)
	}
}

func TestLinkCheck(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())
	e.connect()

	e.net.LinkCheckMargin = 20
	e.net.LinkCheckGateways = 3

	assert.Equal(models.StatusOK, e.device.AddLinkCheckRequest())

	e.net.Downlinks = []sim.Downlink{{Type: mac.McpsUnconfirmed}}
	_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
	assert.Equal(models.StatusOK, st)
	e.run(4 * time.Second)

	assert.Equal(1, e.rec.linkCheckCount)
	assert.EqualValues(20, e.rec.linkCheckMargin)
	assert.EqualValues(3, e.rec.linkCheckGateways)

	e.device.RemoveLinkCheckRequest()
}

func TestDeviceTimeSync(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())
	e.connect()

	e.net.GPSTime = 1000000000000

	assert.Equal(models.StatusOK, e.device.AddDeviceTimeRequest())

	e.net.Downlinks = []sim.Downlink{{Type: mac.McpsUnconfirmed}}
	_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
	assert.Equal(models.StatusOK, st)
	e.run(4 * time.Second)

	assert.Equal(1, e.rec.count(models.EventDeviceTimeSynched))
	assert.Greater(uint64(e.device.GetCurrentGPSTime()), uint64(1000000000000))
}

func TestSetSystemTimeUTC(t *testing.T) {
	t.Run("Without a GPS time reference", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())

		assert.Equal(models.StatusServiceUnknown, e.device.SetSystemTimeUTC(37))
	})

	t.Run("Rounds GPS milliseconds to the nearest second", func(t *testing.T) {
		assert := require.New(t)
		e := newTestEnv(t, abpConfig())

		var got time.Time
		e.device.SetSystemTime = func(t time.Time) { got = t }

		e.device.SetCurrentGPSTime(1234567890500)
		assert.Equal(models.StatusOK, e.device.SetSystemTimeUTC(37))

		expected := int64(315964800) + int64(37-19) + int64(1234567891)
		assert.Equal(expected, got.Unix())
	})
}

func TestGPSTimeMonotonic(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())

	e.device.SetCurrentGPSTime(1000)

	prev := e.device.GetCurrentGPSTime()
	for i := 0; i < 5; i++ {
		e.clock.Advance(time.Second)
		cur := e.device.GetCurrentGPSTime()
		assert.Greater(uint64(cur), uint64(prev))
		prev = cur
	}
}

func TestDisconnect(t *testing.T) {
	assert := require.New(t)
	e := newTestEnv(t, abpConfig())
	e.connect()

	assert.Equal(models.StatusDeviceOff, e.device.Disconnect())
	e.run(100 * time.Millisecond)

	assert.Equal(1, e.rec.count(models.EventDisconnected))
	assert.False(e.lw.Session().Active)

	// all flags are cleared
	assert.EqualValues(0, e.lw.flags)

	// sends are rejected until re-activation
	_, st := e.device.Send(10, []byte{0x01}, models.FlagUnconfirmed)
	assert.Equal(models.StatusNoActiveSessions, st)

	// the counters survive in memory and a new connect restores operation
	assert.Equal(models.StatusOK, e.device.Connect())
	e.run(time.Second)
	assert.Equal(2, e.rec.count(models.EventConnected))
}
