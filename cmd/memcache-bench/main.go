package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/evoasync"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	Increment    OperationType = "increment"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, dynamic-value, cache-miss, increment, delete, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run benchmarks")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		servers     = flag.String("servers", "localhost:11211", "Comma-separated list of memcache servers")
	)
	flag.Parse()

	fmt.Printf("Memcache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Servers: %s\n", *servers)
	fmt.Println()

	pool, err := evoasync.NewBackendPool[any](evoasync.BackendPoolConfig[any]{
		Addrs: strings.Split(*servers, ","),
		Dial: func(ctx context.Context, addr string) (*evoasync.MemcachedClient, error) {
			return evoasync.DialMemcachedClient(ctx, addr, evoasync.ClientConfig{})
		},
		PoolSize: int32(*concurrency) + 4,
	})
	if err != nil {
		log.Fatalf("Failed to create backend pool: %v", err)
	}
	defer pool.Close()
	q := evoasync.NewQuerier(pool)

	fmt.Print("Testing connection...")
	ctx := context.Background()
	if _, err := q.Get(ctx, "test-connection-key"); err != nil && !errors.Is(err, evoasync.ErrCacheMiss) {
		fmt.Printf(" failed: %v\n", err)
		fmt.Printf("Make sure memcached is running on %s\n", *servers)
		fmt.Printf("You can start it with: docker-compose up -d\n")
		return
	}
	fmt.Println(" success!")
	fmt.Println()

	if OperationType(*operation) == All {
		runAllOperations(q, *duration, *concurrency)
	} else {
		result := runSingleOperation(q, OperationType(*operation), *duration, *concurrency)
		printResult(result)
	}
}

func runAllOperations(q evoasync.Querier, duration time.Duration, concurrency int) {
	operations := []OperationType{CacheHit, DynamicValue, CacheMiss, Increment, Delete}

	for _, op := range operations {
		fmt.Printf("\n--- Running %s benchmark ---\n", op)
		result := runSingleOperation(q, op, duration, concurrency)
		printResult(result)

		time.Sleep(500 * time.Millisecond)
	}
}

func runSingleOperation(q evoasync.Querier, operation OperationType, duration time.Duration, concurrency int) *BenchmarkResult {
	switch operation {
	case CacheHit:
		return runCacheHitBenchmark(q, duration, concurrency)
	case DynamicValue:
		return runDynamicValueBenchmark(q, duration, concurrency)
	case CacheMiss:
		return runCacheMissBenchmark(q, duration, concurrency)
	case Increment:
		return runIncrementBenchmark(q, duration, concurrency)
	case Delete:
		return runDeleteBenchmark(q, duration, concurrency)
	default:
		return &BenchmarkResult{
			Operation:    operation,
			Correctness:  false,
			ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation),
		}
	}
}

// Cache-hit: 1 set then 100 get
func runCacheHitBenchmark(q evoasync.Querier, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()
	key := "cache-hit-key"
	value := []byte("cache-hit-value")

	fmt.Printf("Setting up initial value for cache-hit test...\n")
	if err := q.Set(ctx, key, value, time.Hour); err != nil {
		return &BenchmarkResult{
			Operation:    CacheHit,
			Correctness:  false,
			ErrorMessage: fmt.Sprintf("Failed to set initial value: %v", err),
		}
	}

	fmt.Printf("Starting cache-hit benchmark with %d workers for %v...\n", concurrency, duration)

	result := &BenchmarkResult{Operation: CacheHit, Correctness: true}
	var totalOps, successes, failures int64
	var totalLatency int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			batchCount := 0
			for time.Since(startTime) < duration {
				for j := 0; j < 100; j++ {
					opStart := time.Now()
					got, err := q.Get(ctx, key)
					latency := time.Since(opStart)

					atomic.AddInt64(&totalOps, 1)
					atomic.AddInt64(&totalLatency, int64(latency))

					if err != nil {
						atomic.AddInt64(&failures, 1)
					} else {
						atomic.AddInt64(&successes, 1)
						if string(got) != string(value) {
							result.Correctness = false
							result.ErrorMessage = "Value mismatch"
						}
					}
				}
				batchCount++
				if batchCount%10 == 0 {
					fmt.Printf("Worker %d completed %d batches (total ops: %d)\n", workerID, batchCount, atomic.LoadInt64(&totalOps))
				}
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	fmt.Printf("Cache-hit benchmark completed.\n")
	return finalizeResult(result, &totalOps, &successes, &failures, &totalLatency, startTime)
}

// Dynamic-value: 1 set then 1 get
func runDynamicValueBenchmark(q evoasync.Querier, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	result := &BenchmarkResult{Operation: DynamicValue, Correctness: true}
	var totalOps, successes, failures int64
	var totalLatency int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			opCount := 0
			for time.Since(startTime) < duration {
				key := fmt.Sprintf("dynamic-key-%d-%d", workerID, opCount)
				value := []byte(fmt.Sprintf("dynamic-value-%d-%d", workerID, opCount))

				opStart := time.Now()
				err := q.Set(ctx, key, value, time.Hour)
				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(time.Since(opStart)))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				atomic.AddInt64(&successes, 1)

				opStart = time.Now()
				got, err := q.Get(ctx, key)
				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(time.Since(opStart)))

				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					atomic.AddInt64(&successes, 1)
					if string(got) != string(value) {
						result.Correctness = false
						result.ErrorMessage = "Value mismatch"
					}
				}

				opCount++
			}
		}(i)
	}

	wg.Wait()
	return finalizeResult(result, &totalOps, &successes, &failures, &totalLatency, startTime)
}

// Cache-miss: 1 get (on inexistent key)
func runCacheMissBenchmark(q evoasync.Querier, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	result := &BenchmarkResult{Operation: CacheMiss, Correctness: true}
	var totalOps, successes, failures int64
	var totalLatency int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			opCount := 0
			for time.Since(startTime) < duration {
				key := fmt.Sprintf("nonexistent-key-%d-%d", workerID, opCount)

				opStart := time.Now()
				_, err := q.Get(ctx, key)
				latency := time.Since(opStart)

				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(latency))

				if errors.Is(err, evoasync.ErrCacheMiss) {
					atomic.AddInt64(&successes, 1)
				} else {
					atomic.AddInt64(&failures, 1)
					if err == nil {
						result.Correctness = false
						result.ErrorMessage = "Expected cache miss but got value"
					}
				}

				opCount++
			}
		}(i)
	}

	wg.Wait()
	return finalizeResult(result, &totalOps, &successes, &failures, &totalLatency, startTime)
}

// Increment: 100 incr then 1 get (to check the value)
func runIncrementBenchmark(q evoasync.Querier, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()
	key := "increment-key"

	if err := q.Set(ctx, key, []byte("0"), time.Hour); err != nil {
		return &BenchmarkResult{
			Operation:    Increment,
			Correctness:  false,
			ErrorMessage: fmt.Sprintf("Failed to initialize counter: %v", err),
		}
	}

	result := &BenchmarkResult{Operation: Increment, Correctness: true}
	var totalOps, successes, failures int64
	var totalLatency int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Since(startTime) < duration {
				for j := 0; j < 100; j++ {
					opStart := time.Now()
					_, err := q.Increment(ctx, key, 1)
					latency := time.Since(opStart)

					atomic.AddInt64(&totalOps, 1)
					atomic.AddInt64(&totalLatency, int64(latency))

					if err != nil {
						atomic.AddInt64(&failures, 1)
					} else {
						atomic.AddInt64(&successes, 1)
					}
				}

				opStart := time.Now()
				got, err := q.Get(ctx, key)
				latency := time.Since(opStart)

				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(latency))

				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else {
					atomic.AddInt64(&successes, 1)
					if _, err := strconv.Atoi(string(got)); err != nil {
						result.Correctness = false
						result.ErrorMessage = "Counter value is not a number"
					}
				}
			}
		}()
	}

	wg.Wait()
	return finalizeResult(result, &totalOps, &successes, &failures, &totalLatency, startTime)
}

// Delete: 1 set then 1 delete
func runDeleteBenchmark(q evoasync.Querier, duration time.Duration, concurrency int) *BenchmarkResult {
	ctx := context.Background()

	result := &BenchmarkResult{Operation: Delete, Correctness: true}
	var totalOps, successes, failures int64
	var totalLatency int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			opCount := 0
			for time.Since(startTime) < duration {
				key := fmt.Sprintf("delete-key-%d-%d", workerID, opCount)
				value := []byte(fmt.Sprintf("delete-value-%d-%d", workerID, opCount))

				opStart := time.Now()
				err := q.Set(ctx, key, value, time.Hour)
				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(time.Since(opStart)))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				atomic.AddInt64(&successes, 1)

				opStart = time.Now()
				err = q.Delete(ctx, key)
				atomic.AddInt64(&totalOps, 1)
				atomic.AddInt64(&totalLatency, int64(time.Since(opStart)))

				if err != nil && !errors.Is(err, evoasync.ErrCacheMiss) {
					atomic.AddInt64(&failures, 1)
				} else {
					atomic.AddInt64(&successes, 1)
				}

				opCount++
			}
		}(i)
	}

	wg.Wait()
	return finalizeResult(result, &totalOps, &successes, &failures, &totalLatency, startTime)
}

func finalizeResult(result *BenchmarkResult, totalOps, successes, failures, totalLatency *int64, startTime time.Time) *BenchmarkResult {
	result.Duration = time.Since(startTime)
	result.TotalOps = atomic.LoadInt64(totalOps)
	result.Successes = atomic.LoadInt64(successes)
	result.Failures = atomic.LoadInt64(failures)

	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(atomic.LoadInt64(totalLatency) / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}
	return result
}

func printResult(result *BenchmarkResult) {
	fmt.Printf("Operation: %s\n", result.Operation)
	fmt.Printf("Duration: %v\n", result.Duration)
	fmt.Printf("Total Operations: %d\n", result.TotalOps)
	fmt.Printf("Successes: %d\n", result.Successes)
	fmt.Printf("Failures: %d\n", result.Failures)
	if result.TotalOps > 0 {
		fmt.Printf("Success Rate: %.2f%%\n", float64(result.Successes)/float64(result.TotalOps)*100)
		fmt.Printf("Ops/sec: %.2f\n", result.OpsPerSecond)
		fmt.Printf("Avg Latency: %v\n", result.AvgLatency)
	}
	fmt.Printf("Correctness: %t\n", result.Correctness)
	if result.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", result.ErrorMessage)
	}
	fmt.Println()
}
