package main

import (
	"os"

	"github.com/fathomlabs/fathom/cmd/fathom/commands"
)

func main() {
	os.Exit(commands.Execute())
}
