// Command trader runs on the trading host. It talks to the exchange REST API
// and obtains every request signature from the remote signing service, so
// the exchange secret never touches this host.
package main

import (
	"fmt"
	"os"

	"signing-relay/pkg/apperror"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if apperror.HasCode(err, apperror.CodeSigningUnavailable) {
			fmt.Fprintln(os.Stderr, "Check that the signer is running and that this host is on its allowlist.")
		}
		os.Exit(1)
	}
}
