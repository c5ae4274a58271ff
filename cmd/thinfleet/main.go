package main

import "thinfleet/internal/commands"

func main() {
	commands.Execute()
}
