// Command inspector prints the newest request log records shipped to Redis.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/GoPolymarket/reqlog/internal/config"
	"github.com/GoPolymarket/reqlog/internal/repository"
)

func main() {
	category := flag.String("category", "", "record category (empty = all)")
	limit := flag.Int("n", 20, "number of records")
	pretty := flag.Bool("pretty", false, "indent records")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	client, err := repository.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("Redis unavailable: %v", err)
	}
	defer client.Close()

	repo := repository.NewRedisRequestLogRepo(client.Client, cfg.Redis.ListPrefix, cfg.Redis.ListMax)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := repo.List(ctx, *category, *limit)
	if err != nil {
		log.Fatalf("List failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			log.Fatalf("Encode failed: %v", err)
		}
	}
	fmt.Fprintf(os.Stderr, "--- %d record(s) ---\n", len(records))
}
