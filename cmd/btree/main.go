package main

import (
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("btree"),
		kong.Description("Validate, inspect, run and serve behaviour trees."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		ctx.Errorf("%v", err)
		os.Exit(1)
	}
}
