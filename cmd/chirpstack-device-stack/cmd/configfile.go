package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}


# Device settings.
[device]
# Activation mode.
#
# Valid options are: otaa, abp.
activation="{{ .Device.Activation }}"

# Default application port.
app_port={{ .Device.AppPort }}

# LoRaWAN MAC version.
#
# Valid options are: 1.0.2, 1.0.3, 1.1.
mac_version="{{ .Device.MACVersion }}"

# Automatic uplink.
#
# When enabled, the stack answers FPending and Class-C confirmed downlinks
# with an empty confirmed uplink; when disabled an UPLINK_REQUIRED event is
# emitted instead.
automatic_uplink={{ .Device.AutomaticUplink }}

# Default QOS repetition level for unconfirmed uplinks.
qos={{ .Device.QOS }}

# Default number of confirmed-uplink retries.
confirmed_msg_retries={{ .Device.ConfirmedMsgRetries }}

# Open the compliance-test port (224).
compliance_test={{ .Device.ComplianceTest }}


  # Class-B settings.
  [device.class_b]
  # Enable Class-B support.
  enabled={{ .Device.ClassB.Enabled }}

  # Beacon-less operation grace window before the device reverts to Class A.
  beaconless_period="{{ .Device.ClassB.BeaconlessPeriod }}"

  # Number of beacon acquisition attempts.
  beacon_acquisition_attempts={{ .Device.ClassB.BeaconAcquisitionAttempts }}

  # Default ping-slot periodicity (0..7).
  ping_slot_periodicity={{ .Device.ClassB.PingSlotPeriodicity }}


  # LoRaWAN 1.1 rejoin settings.
  [device.rejoin]
  # Period of the type-1 periodic rejoin.
  type1_send_period="{{ .Device.Rejoin.Type1SendPeriod }}"


# Metrics settings.
[monitoring]
# Bind address of the Prometheus endpoint (e.g. 0.0.0.0:8070).
#
# Leave empty to disable the endpoint.
bind="{{ .Monitoring.Bind }}"
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the ChirpStack Device Stack configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
