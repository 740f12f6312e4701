// Command hivesync is the device-side sync agent: it keeps the local
// SQLite database reconciled with the remote hivemark server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
