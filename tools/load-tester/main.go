package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var merchants = []string{"M001", "M002", "M003", "M004", "M005"}
var locations = []string{"NYC", "LON", "SFO", "BER", "TYO"}

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	stream := flag.String("stream", "transactions", "Input stream to publish to")
	concurrency := flag.Int("c", 10, "Number of concurrent producers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Transactions per second limit")
	malformedPct := flag.Int("malformed", 2, "Percent of payloads to corrupt")
	suspiciousPct := flag.Int("suspicious", 5, "Percent of amounts above the suspicious threshold")
	flag.Parse()

	log.Printf("Starting load test against %s (stream %s)", *redisAddr, *stream)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

			for {
				select {
				case <-ctx.Done():
					return
				default:
					if err := limiter.Wait(ctx); err != nil {
						return
					}

					payload := buildPayload(rng, *malformedPct, *suspiciousPct)
					err := client.XAdd(ctx, &redis.XAddArgs{
						Stream: *stream,
						Values: map[string]interface{}{"payload": payload},
					}).Err()
					if err != nil {
						errorCount.Add(1)
						continue
					}
					successCount.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	totalSent := successCount.Load() + errorCount.Load()
	log.Println("Load test finished.")
	log.Printf("Total Published: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", float64(totalSent)/duration.Seconds())
}

func buildPayload(rng *rand.Rand, malformedPct, suspiciousPct int) string {
	if rng.Intn(100) < malformedPct {
		return `{"transaction_id": "broken`
	}

	amount := 10 + rng.Float64()*900 // NORMAL by default
	switch {
	case rng.Intn(100) < suspiciousPct:
		amount = 5000 + rng.Float64()*10000
	case rng.Intn(100) < 20:
		amount = 1000 + rng.Float64()*3000
	}

	return fmt.Sprintf(
		`{"transaction_id": "%s", "customer_id": "C%03d", "merchant_id": "%s", "amount": %.2f, "currency": "USD", "location": "%s", "timestamp": "%s"}`,
		uuid.NewString(),
		rng.Intn(200),
		merchants[rng.Intn(len(merchants))],
		amount,
		locations[rng.Intn(len(locations))],
		time.Now().UTC().Format(time.RFC3339Nano),
	)
}
