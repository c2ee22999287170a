package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/podnet/cmd"
	"grimm.is/podnet/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		cmd.PrintUsage(os.Stderr)
		os.Exit(cmd.ExitUsage)
	}

	switch os.Args[1] {
	case "version", "-version", "--version":
		fmt.Printf("%s %s (%s)\n", brand.BinaryName, brand.Version, brand.GitCommit)
		return
	case "help", "-h", "--help":
		cmd.PrintUsage(os.Stdout)
		return
	}

	// A verb interrupted mid-transaction still rolls back: the engine sees
	// the cancelled context and restores the previous artifact.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
