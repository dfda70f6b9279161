package main

import (
	"github.com/brocaar/chirpstack-device-stack/cmd/chirpstack-device-stack/cmd"
)

// version is set by the build pipeline.
var version string

func main() {
	cmd.Execute(version)
}
