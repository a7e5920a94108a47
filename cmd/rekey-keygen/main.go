// Package main provides a one-shot utility for session key generation.
//
// It emits the Ed25519 keypair used to sign and verify web session tokens.
package main

import (
	"os"

	"github.com/louisbranch/rekey/internal/platform/config"
	"github.com/louisbranch/rekey/internal/tools/sessionkey"
)

func main() {
	if err := sessionkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate session key: %v", err)
	}
}
