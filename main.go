package main

import (
	"fmt"
)

func main() {
	fmt.Println("offsync - Offline-First Resource Sync Core")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("offsync keeps a local SQLite cache of remote resources usable while")
	fmt.Println("offline: optimistic writes, a durable replay queue, temp-to-permanent")
	fmt.Println("id reconciliation, and WebSocket push handling.")
	fmt.Println()

	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("1. Sync core library (synclite/)")
	fmt.Println("   Repository, Outbox, IDMapper, Handler, Retention and Store")
	fmt.Println("   composed over a single SQLite database")
	fmt.Println()

	fmt.Println("2. Demo CLI (cmd/offsync/)")
	fmt.Println("   watch: run the push listener and queue runner")
	fmt.Println("   list:  inspect the local cache, optimistic entries highlighted")
	fmt.Println("   queue: inspect or flush the offline mutation queue")
	fmt.Println("   Run: go run ./cmd/offsync --help")
	fmt.Println()
}
