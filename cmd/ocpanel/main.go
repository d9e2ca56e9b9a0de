package main

import "github.com/jmcleod/ocpanel/cmd/ocpanel/cmd"

func main() {
	cmd.Execute()
}
