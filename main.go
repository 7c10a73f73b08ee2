package main

import "odmclient/cmd"

func main() {
	cmd.Execute()
}
