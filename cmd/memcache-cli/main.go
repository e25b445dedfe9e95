package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pior/evoasync"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:11211", "memcached server address")
	flag.Parse()

	fmt.Println("Memcache CLI Tool")
	fmt.Println("================")
	fmt.Println("Commands: get <key>, set <key> <value> [ttl], delete <key>, incr <key> <delta>, decr <key> <delta>, stats, quit")
	fmt.Println()

	pool, err := evoasync.NewBackendPool[any](evoasync.BackendPoolConfig[any]{
		Addrs: []string{*addr},
		Dial: func(ctx context.Context, addr string) (*evoasync.MemcachedClient, error) {
			return evoasync.DialMemcachedClient(ctx, addr, evoasync.ClientConfig{})
		},
	})
	if err != nil {
		fmt.Printf("Failed to create client pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	q := evoasync.NewQuerier(pool)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])
		ctx := context.Background()

		switch command {
		case "get":
			if len(parts) != 2 {
				fmt.Println("Usage: get <key>")
				continue
			}
			handleGet(ctx, q, parts[1])

		case "set":
			if len(parts) < 3 || len(parts) > 4 {
				fmt.Println("Usage: set <key> <value> [ttl_seconds]")
				continue
			}
			ttl := time.Duration(0)
			if len(parts) == 4 {
				ttlSecs, err := strconv.Atoi(parts[3])
				if err != nil {
					fmt.Printf("Invalid TTL: %v\n", err)
					continue
				}
				ttl = time.Duration(ttlSecs) * time.Second
			}
			handleSet(ctx, q, parts[1], parts[2], ttl)

		case "delete", "del":
			if len(parts) != 2 {
				fmt.Println("Usage: delete <key>")
				continue
			}
			handleDelete(ctx, q, parts[1])

		case "incr":
			if len(parts) != 3 {
				fmt.Println("Usage: incr <key> <delta>")
				continue
			}
			handleArith(ctx, q, parts[1], parts[2], true)

		case "decr":
			if len(parts) != 3 {
				fmt.Println("Usage: decr <key> <delta>")
				continue
			}
			handleArith(ctx, q, parts[1], parts[2], false)

		case "stats":
			handleStats(pool)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  get <key>                 - Get a value by key")
			fmt.Println("  set <key> <value> [ttl]   - Set a key-value pair with optional TTL")
			fmt.Println("  delete <key>              - Delete a key")
			fmt.Println("  incr <key> <delta>        - Increment a numeric value")
			fmt.Println("  decr <key> <delta>        - Decrement a numeric value")
			fmt.Println("  stats                     - Show backend pool statistics")
			fmt.Println("  quit                      - Exit the CLI")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func handleGet(ctx context.Context, q evoasync.Querier, key string) {
	start := time.Now()
	value, err := q.Get(ctx, key)
	duration := time.Since(start)

	if errors.Is(err, evoasync.ErrCacheMiss) {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Value: %s (took %v)\n", string(value), duration)
}

func handleSet(ctx context.Context, q evoasync.Querier, key, value string, ttl time.Duration) {
	start := time.Now()
	err := q.Set(ctx, key, []byte(value), ttl)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Stored successfully (took %v)\n", duration)
}

func handleDelete(ctx context.Context, q evoasync.Querier, key string) {
	start := time.Now()
	err := q.Delete(ctx, key)
	duration := time.Since(start)

	if errors.Is(err, evoasync.ErrCacheMiss) {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("Delete successful (took %v)\n", duration)
}

func handleArith(ctx context.Context, q evoasync.Querier, key, deltaStr string, incr bool) {
	delta, err := strconv.ParseUint(deltaStr, 10, 64)
	if err != nil {
		fmt.Printf("Invalid delta: %v\n", err)
		return
	}

	start := time.Now()
	var value uint64
	if incr {
		value, err = q.Increment(ctx, key, delta)
	} else {
		value, err = q.Decrement(ctx, key, delta)
	}
	duration := time.Since(start)

	if errors.Is(err, evoasync.ErrCacheMiss) {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Printf("New value: %d (took %v)\n", value, duration)
}

func handleStats(pool *evoasync.BackendPool[any]) {
	stats := pool.Stats()
	if len(stats) == 0 {
		fmt.Println("No statistics available")
		return
	}

	fmt.Println("Backend Statistics:")
	for _, s := range stats {
		fmt.Printf("  %s:\n", s.Addr)
		fmt.Printf("    Pool: %+v\n", s.PoolStats)
		fmt.Printf("    Circuit breaker state: %v\n", s.CircuitBreakerState)
		fmt.Println()
	}
}
