package main

import (
	"context"
	"os"

	"github.com/vk/playbookgo/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Stdout, os.Stderr, os.Args[1:]))
}
