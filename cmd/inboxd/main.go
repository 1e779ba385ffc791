package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dkarimoff/evoinbox/internal/daemon"
	"github.com/dkarimoff/evoinbox/internal/lock"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		daemon.Module(),
		fx.NopLogger,
	)

	if err := app.Err(); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "inboxd already running (pid %d)\n", held.PID)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "inboxd: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
