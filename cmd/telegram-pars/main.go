// Package main is the telegram-pars entry point.
package main

import "github.com/skywinder/telegram-pars/cmd"

func main() {
	cmd.Execute()
}
