package main

import (
	"os"

	"github.com/ndewijer/market-data-cache/internal/commands"
)

func main() {
	os.Exit(commands.Execute())
}
