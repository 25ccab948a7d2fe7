package main

import (
	"errors"
	"os"

	"github.com/vaultik/vaultik/internal/engine"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, engine.ErrMismatch) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
