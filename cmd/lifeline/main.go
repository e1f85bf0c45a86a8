package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time
var Version = "dev"

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "lifeline"
	app.Usage = "extend the lifetime of spaces on a spaces chain"
	app.Commands = append(
		app.Commands,
		&quoteCommand,
		&extendCommand,
		&serveCommand,
		&mcpCommand,
		&devnetCommand,
	)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
