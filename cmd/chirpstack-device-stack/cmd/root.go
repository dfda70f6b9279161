package cmd

import (
	"bytes"
	"io/ioutil"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brocaar/chirpstack-device-stack/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "chirpstack-device-stack",
	Short: "ChirpStack Device Stack",
	Long: `ChirpStack Device Stack is an open-source LoRaWAN end-device stack, part of the ChirpStack project
	> documentation & support: https://www.chirpstack.io/
	> source & copyright information: https://github.com/brocaar/chirpstack-device-stack/`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	// default values
	viper.SetDefault("device.activation", "otaa")
	viper.SetDefault("device.app_port", 15)
	viper.SetDefault("device.mac_version", "1.0.3")
	viper.SetDefault("device.automatic_uplink", true)
	viper.SetDefault("device.qos", 1)
	viper.SetDefault("device.confirmed_msg_retries", 4)
	viper.SetDefault("device.class_b.beaconless_period", 7200*time.Second)
	viper.SetDefault("device.class_b.beacon_acquisition_attempts", 8)
	viper.SetDefault("device.rejoin.type1_send_period", 24*time.Hour)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := ioutil.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("chirpstack-device-stack")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chirpstack-device-stack")
		viper.AddConfigPath("/etc/chirpstack-device-stack")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}
}
