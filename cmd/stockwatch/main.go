// Command stockwatch watches storefront listings and sends Telegram alerts on restocks.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
