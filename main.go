package main

import "github.com/doombunnyxo/steward/cmd"

func main() {
	cmd.Execute()
}
