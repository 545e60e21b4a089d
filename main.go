package main

import "polymarket-trader/cmd"

func main() {
	cmd.Execute()
}
