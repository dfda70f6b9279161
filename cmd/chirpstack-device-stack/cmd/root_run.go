package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
	"github.com/brocaar/chirpstack-device-stack/internal/events"
	"github.com/brocaar/chirpstack-device-stack/internal/mac"
	"github.com/brocaar/chirpstack-device-stack/internal/models"
	"github.com/brocaar/chirpstack-device-stack/internal/monitoring"
	"github.com/brocaar/chirpstack-device-stack/internal/sim"
	"github.com/brocaar/chirpstack-device-stack/internal/stack"
)

// uplinkInterval is the period of the simulator uplinks.
const uplinkInterval = 30 * time.Second

// run starts the stack against the in-process simulated network and sends
// periodic uplinks. It exists to exercise the full event loop end-to-end
// without radio hardware.
func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))

	log.WithFields(log.Fields{
		"version": version,
		"docs":    "https://www.chirpstack.io/",
	}).Info("starting ChirpStack Device Stack (simulator mode)")

	if err := monitoring.Setup(config.C); err != nil {
		return err
	}

	deviceVersion, err := mac.ParseVersion(config.C.Device.MACVersion)
	if err != nil {
		log.WithError(err).Warning("using mac version 1.0.3")
	}

	queue := events.NewQueue(events.NewSystemClock())
	radio := sim.NewRadio(queue)
	network := sim.NewNetwork()
	network.ServerVersion = deviceVersion
	network.GPSTime = 1

	macLayer := sim.NewMACLayer(radio, network, deviceVersion)
	lw := stack.New(macLayer, config.C.Device)
	device := stack.NewInterface(lw, radio)

	if st := device.Initialize(queue); st != models.StatusOK {
		log.WithField("status", st).Fatal("initialize error")
	}

	connected := make(chan struct{}, 1)

	st := device.AddAppCallbacks(&stack.Callbacks{
		Events: func(event models.Event) {
			log.WithField("event", event).Info("event received")
			if event == models.EventConnected {
				connected <- struct{}{}
			}
		},
		LinkCheckResp: func(demodMargin, nbGateways uint8) {
			log.WithFields(log.Fields{
				"demod_margin": demodMargin,
				"nb_gateways":  nbGateways,
			}).Info("link-check response received")
		},
		BatteryLevel: func() uint8 {
			return 254 // external power source
		},
	})
	if st != models.StatusOK {
		log.WithField("status", st).Fatal("add app callbacks error")
	}

	go queue.Run(ctx)

	if st := device.Connect(); st != models.StatusOK && st != models.StatusConnectInProgress {
		log.WithField("status", st).Fatal("connect error")
	}

	go func() {
		<-connected

		var counter uint32
		ticker := time.NewTicker(uplinkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				payload := []byte{byte(counter >> 8), byte(counter)}
				counter++

				n, st := device.Send(config.C.Device.AppPort, payload, models.FlagUnconfirmed)
				if st != models.StatusOK {
					log.WithField("status", st).Warning("send error")
					continue
				}
				log.WithField("bytes", n).Info("uplink scheduled")
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	log.Warning("stopping chirpstack-device-stack")

	device.Disconnect()

	return nil
}
