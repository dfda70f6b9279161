package stack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/sim"
	"github.com/brocaar/chirpstack-device-stack/internal/test"
)

type eventRecorder struct {
	events []models.Event

	linkCheckMargin   uint8
	linkCheckGateways uint8
	linkCheckCount    int
}

func (r *eventRecorder) record(e models.Event) {
	r.events = append(r.events, e)
}

func (r *eventRecorder) linkCheck(demodMargin, nbGateways uint8) {
	r.linkCheckMargin = demodMargin
	r.linkCheckGateways = nbGateways
	r.linkCheckCount++
}

func (r *eventRecorder) count(e models.Event) int {
	var n int
	for _, ev := range r.events {
		if ev == e {
			n++
		}
	}
	return n
}

func (r *eventRecorder) has(e models.Event) bool {
	return r.count(e) > 0
}

func (r *eventRecorder) clear() {
	r.events = nil
}

type testEnv struct {
	t *testing.T

	clock  *events.ManualClock
	queue  *events.Queue
	radio  *sim.Radio
	net    *sim.Network
	mac    *sim.MACLayer
	lw     *Stack
	device *Interface
	rec    *eventRecorder
}

func newTestEnv(t *testing.T, conf config.DeviceConfig) *testEnv {
	assert := require.New(t)

	version, err := mac.ParseVersion(conf.MACVersion)
	assert.NoError(err)

	clock := &events.ManualClock{}
	queue := events.NewQueue(clock)
	radio := sim.NewRadio(queue)
	network := sim.NewNetwork()
	network.ServerVersion = version

	macLayer := sim.NewMACLayer(radio, network, version)
	lw := New(macLayer, conf)
	device := NewInterface(lw, radio)

	assert.Equal(models.StatusOK, device.Initialize(queue))

	rec := &eventRecorder{}
	assert.Equal(models.StatusOK, device.AddAppCallbacks(&Callbacks{
		Events:        rec.record,
		LinkCheckResp: rec.linkCheck,
		BatteryLevel:  func() uint8 { return 128 },
	}))

	return &testEnv{
		t:      t,
		clock:  clock,
		queue:  queue,
		radio:  radio,
		net:    network,
		mac:    macLayer,
		lw:     lw,
		device: device,
		rec:    rec,
	}
}

// run advances the simulation in 25ms steps, draining the queue after each
// step.
func (e *testEnv) run(d time.Duration) {
	e.runStep(d, 25*time.Millisecond)
}

// runStep advances the simulation with a custom step size; long Class-B
// scenarios use a coarse step.
func (e *testEnv) runStep(d, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		e.clock.Advance(step)
		for e.queue.Dispatch() > 0 {
		}
	}
}

// connect activates the device and waits for the CONNECTED event.
func (e *testEnv) connect() {
	assert := require.New(e.t)

	st := e.device.Connect()
	if e.lw.conf.Activation == "abp" {
		assert.Equal(models.StatusOK, st)
		e.run(100 * time.Millisecond)
	} else {
		assert.Equal(models.StatusConnectInProgress, st)
		e.run(7 * time.Second)
	}

	assert.True(e.rec.has(models.EventConnected))
}

func abpConfig() config.DeviceConfig {
	conf := test.GetDeviceConfig()
	conf.Activation = "abp"
	return conf
}
