// Command signer runs on the custody host. It opens (or provisions) the
// vault holding the exchange secret and serves HMAC signatures over TCP to
// allowlisted trading hosts.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
