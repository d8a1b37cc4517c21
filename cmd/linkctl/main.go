// Command linkctl links devices through the bridge and inspects or repairs
// credential directories.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
