package main

import "SignalFlow/client/signalflow-cli/cmd"

func main() {
	cmd.Execute()
}
