// counterd maintains the account counters
package main

import (
	"os"

	c "github.com/d0ngw/counters/common"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		c.SyncLog()
		os.Exit(1)
	}
	c.SyncLog()
}
