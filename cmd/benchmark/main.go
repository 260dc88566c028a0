package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"learnedindex/pkg/common"
	"learnedindex/pkg/config"
	"learnedindex/pkg/core"
	"learnedindex/pkg/core/btree"
	"learnedindex/pkg/core/forwarding"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/model"
	"learnedindex/pkg/modeldesc"
)

var log = logger.For("bench")

func main() {
	configPath := flag.String("config", "", "Path to YAML config (object store credentials)")
	dataPath := flag.String("dataset", "", "Dataset: local path or s3://bucket/object")
	modelPath := flag.String("model", "", "Trained model description; empty trains a linear router")
	buckets := flag.Int("buckets", 1024, "Bucket count when training a linear router")
	nReq := flag.Int("n", 1000000, "Number of lookups per run")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Sampling seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if *dataPath == "" {
		*dataPath = cfg.Data.Dataset
	}
	if *modelPath == "" {
		*modelPath = cfg.Data.Model
	}
	if *dataPath == "" {
		log.Fatal("No dataset given (-dataset or data.dataset)")
	}

	ctx := context.Background()
	keys, err := dataset.Load(ctx, *dataPath, cfg.ObjectStore)
	if err != nil {
		log.Fatalf("Load dataset: %v", err)
	}

	var params *model.Params
	if *modelPath != "" {
		params, err = modeldesc.Load(ctx, *modelPath, cfg.ObjectStore)
	} else {
		params, err = model.TrainLinearRouter(keys, *buckets, model.WithLeakySlope(cfg.Index.LeakySlope))
	}
	if err != nil {
		log.Fatalf("Load model: %v", err)
	}

	start := time.Now()
	fm, err := forwarding.Build(ctx, keys, params, forwarding.WithWorkers(cfg.Index.Workers))
	if err != nil {
		log.Fatalf("Build forwarding index: %v", err)
	}
	fwdBuild := time.Since(start)

	start = time.Now()
	bt := btree.BuildExact(keys)
	btBuild := time.Since(start)

	fmt.Printf("Learned Index Benchmark (keys=%d, N=%d)\n", len(keys), *nReq)
	fmt.Printf("  dataset=%s  model=%s\n", *dataPath, modelName(*modelPath))
	fmt.Println("---------------------------------------------------")
	fmt.Printf("Build  Forwarding: %v (%d buckets)\n", fwdBuild, len(fm.Buckets()))
	fmt.Printf("Build  BTree:      %v (height %d)\n\n", btBuild, bt.Height())

	fwdDur := run(fm, keys, *nReq, *seed)
	btDur := run(bt, keys, *nReq, *seed)

	fmt.Println("---------------------------------------------------")
	if fwdDur > 0 {
		fmt.Printf("Conclusion: Forwarding is %.2fx the speed of BTree\n", btDur.Seconds()/fwdDur.Seconds())
	}
}

func run(idx core.Index, keys []common.KeyType, n int, seed int64) time.Duration {
	fmt.Printf(">> %s...\n", idx.Type())
	d, hits := core.Bench(idx, keys, n, rand.New(rand.NewSource(seed)))
	fmt.Printf("   Time: %v | %v/lookup | hits %d/%d\n", d, core.PerLookup(d, n), hits, n)
	return d
}

func modelName(p string) string {
	if p == "" {
		return "(linear router)"
	}
	return p
}
