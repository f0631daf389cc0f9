package main

import (
	"os"

	_ "golang.org/x/crypto/x509roots/fallback"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
