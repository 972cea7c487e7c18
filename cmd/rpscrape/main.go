package main

import "rpscrape/cmd/rpscrape/cmd"

func main() {
	cmd.Execute()
}
