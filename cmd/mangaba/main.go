package main

import (
	"context"
	"os"

	"github.com/mangaba-ai/mangaba-go/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
