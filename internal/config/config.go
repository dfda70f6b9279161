package config

import (
	"time"
)

// Version defines the ChirpStack Device Stack version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Device     DeviceConfig     `mapstructure:"device"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// GeneralConfig holds the process-wide settings.
type GeneralConfig struct {
	LogLevel int `mapstructure:"log_level"`
}

// DeviceConfig holds the stack behavior settings.
type DeviceConfig struct {
	// Activation selects the default connect path: otaa or abp.
	Activation string `mapstructure:"activation"`

	// AppPort is the default application port.
	AppPort uint8 `mapstructure:"app_port"`

	// MACVersion is the LoRaWAN MAC version: 1.0.2, 1.0.3 or 1.1.
	MACVersion string `mapstructure:"mac_version"`

	// AutomaticUplink enables automatic empty uplinks in response to
	// FPending / Class-C confirmed downlinks and MAC scheduling requests.
	AutomaticUplink bool `mapstructure:"automatic_uplink"`

	// QOS is the default unconfirmed-uplink repetition level.
	QOS uint8 `mapstructure:"qos"`

	// ConfirmedMsgRetries is the default confirmed-uplink retry count.
	ConfirmedMsgRetries uint8 `mapstructure:"confirmed_msg_retries"`

	// ComplianceTest opens application port 224 for the compliance test
	// protocol.
	ComplianceTest bool `mapstructure:"compliance_test"`

	ClassB ClassBConfig `mapstructure:"class_b"`
	Rejoin RejoinConfig `mapstructure:"rejoin"`
}

// ClassBConfig holds the Class-B settings.
type ClassBConfig struct {
	// Enabled enables Class-B support (beacon tracking, ping slots).
	Enabled bool `mapstructure:"enabled"`

	// BeaconlessPeriod is the grace window of beacon-less operation after
	// which the device reverts to Class A.
	BeaconlessPeriod time.Duration `mapstructure:"beaconless_period"`

	// BeaconAcquisitionAttempts is the configured number of beacon
	// acquisition attempts. The stack does not pass it to the lower MAC
	// (mac.Ops.EnableBeaconAcquisition takes no attempt count); the
	// simulated MAC makes a single acquisition attempt per request.
	BeaconAcquisitionAttempts uint8 `mapstructure:"beacon_acquisition_attempts"`

	// PingSlotPeriodicity is the default ping-slot periodicity (0..7).
	PingSlotPeriodicity uint8 `mapstructure:"ping_slot_periodicity"`
}

// MonitoringConfig holds the metrics endpoint settings.
type MonitoringConfig struct {
	// Bind is the address the Prometheus endpoint listens on. Empty
	// disables the endpoint.
	Bind string `mapstructure:"bind"`
}

// RejoinConfig holds the LoRaWAN 1.1 rejoin settings.
type RejoinConfig struct {
	// Type1SendPeriod is the period of the type-1 periodic rejoin.
	Type1SendPeriod time.Duration `mapstructure:"type1_send_period"`
}

// C holds the global configuration.
var C Config

func init() {
	C.General.LogLevel = 4

	C.Device.Activation = "otaa"
	C.Device.AppPort = 15
	C.Device.MACVersion = "1.0.3"
	C.Device.AutomaticUplink = true
	C.Device.QOS = 1
	C.Device.ConfirmedMsgRetries = 4
	C.Device.ClassB.BeaconlessPeriod = 7200 * time.Second
	C.Device.ClassB.BeaconAcquisitionAttempts = 8
	C.Device.Rejoin.Type1SendPeriod = 3600 * 24 * time.Second
}
