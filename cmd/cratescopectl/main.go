package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"github.com/cratescope/cratescope/cmd/cratescopectl/commands"
)

func main() {
	commands.RootCmd.AddCommand(commands.FetchCmd)
	commands.RootCmd.AddCommand(commands.LsCmd)
	commands.RootCmd.AddCommand(commands.CatCmd)
	commands.RootCmd.AddCommand(commands.GrepCmd)
	commands.RootCmd.AddCommand(commands.ItemsCmd)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		<-sigs
		color.Yellow("interrupted")
		os.Exit(1)
	}()

	if err := commands.RootCmd.Execute(); err != nil {
		color.Red(fmt.Sprintf("cratescopectl: %v", err))
		os.Exit(1)
	}
}
