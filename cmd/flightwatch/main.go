package main

import "flight-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
