package main

import "github.com/dhcgn/patchtrack/cmd"

func main() {
	cmd.Execute()
}
