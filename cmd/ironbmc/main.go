package main

import "github.com/jmcleod/ironbmc/cmd/ironbmc/cmd"

func main() {
	cmd.Execute()
}
