package main

import (
	"fmt"
	"log"
	"time"

	"learnedindex/pkg/client"
	"learnedindex/pkg/common"
)

func main() {
	fmt.Println("Connecting to learned index server...")
	cli, err := client.Dial("localhost:9090")
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cli.Close()

	key := common.KeyType(1.0625)

	fmt.Printf("Staging key %g\n", key)
	start := time.Now()
	if err := cli.Ingest([]common.KeyType{key}); err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}
	res, err := cli.Rebuild()
	if err != nil {
		log.Fatalf("Rebuild failed: %v", err)
	}
	fmt.Printf("Rebuilt %v index with %v keys in %v\n", res["type"], res["keys"], time.Since(start))

	fmt.Printf("Looking up %g...\n", key)
	start = time.Now()
	pos, found, err := cli.Eval(key)
	if err != nil {
		log.Fatalf("Eval failed: %v", err)
	}
	if !found {
		log.Fatalf("Key %g missing after rebuild", key)
	}
	fmt.Printf("Key %g is at position %d (in %v)\n", key, pos, time.Since(start))
}
