// Command mqttc publishes and subscribes from the command line.
//
// Usage:
//
//	mqttc pub --server tcp://localhost:1883 --topic sensors/1/temp --message 21.5
//	mqttc sub --server tcp://localhost:1883 --topic 'sensors/+/temp' --qos 1
//
// Settings can also come from a YAML file given with --config; flags
// override the file.
package main

import (
	"fmt"
	"os"

	"github.com/vitalvas/mqttclient/cmd/mqttc/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
