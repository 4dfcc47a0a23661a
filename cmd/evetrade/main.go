package main

import (
	"context"
	"evetrade/cmd/evetrade/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
