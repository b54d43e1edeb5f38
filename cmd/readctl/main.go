// Command readctl recognizes documents with the Vision Read API from the
// command line, enqueues jobs for the worker and queries saved results.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
