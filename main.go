// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🥋 karasync - Offline-First Sync Engine for Karatapp")
	fmt.Println("====================================================")
	fmt.Println()
	fmt.Println("karasync keeps a local SQLite cache and a durable operation queue so the")
	fmt.Println("app stays fully usable offline; mutations replay against the backend with")
	fmt.Println("conflict detection, idempotent retries and a dead-letter queue.")
	fmt.Println()

	fmt.Println("📚 Packages:")
	fmt.Println()
	fmt.Println("  syncstore/      SQLite-backed key-value store (snappy-compressed values)")
	fmt.Println("  karasync/       entity cache, operation queue, conflict resolver, engine")
	fmt.Println("  postgrest/      remote data source over a Supabase/PostgREST REST API")
	fmt.Println("  realtime/       websocket heartbeat connectivity signal")
	fmt.Println("  internal/auth   JWT token sources for the REST client")
	fmt.Println()

	fmt.Println("🚀 Example:")
	fmt.Println()
	fmt.Println("   Offline demo (examples/offline_demo/)")
	fmt.Println("   Queues mutations while offline and drains them on reconnect")
	fmt.Println("   Run: go run ./examples/offline_demo")
	fmt.Println()

	fmt.Println("📖 See DESIGN.md for architecture notes.")
}
