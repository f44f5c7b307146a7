package main

import "trailing-return-alerts/internal/cli"

func main() {
	cli.Execute()
}
