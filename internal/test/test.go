// Package test provides shared test bootstrap helpers.
package test

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

// GetDeviceConfig returns the device configuration used by the tests.
func GetDeviceConfig() config.DeviceConfig {
	var c config.DeviceConfig
	c.Activation = "otaa"
	c.AppPort = 15
	c.MACVersion = "1.0.3"
	c.AutomaticUplink = true
	c.QOS = 1
	c.ConfirmedMsgRetries = 4
	c.ClassB.Enabled = true
	c.ClassB.BeaconlessPeriod = 7200 * time.Second
	c.ClassB.BeaconAcquisitionAttempts = 8
	c.Rejoin.Type1SendPeriod = 24 * time.Hour

	return c
}
