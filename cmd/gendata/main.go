package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"learnedindex/pkg/config"
	"learnedindex/pkg/dataset"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/model"
	"learnedindex/pkg/modeldesc"
)

var log = logger.For("gendata")

// main 生成对数正态分布的有序数据集, 可选地训练线性路由器并写出模型描述
func main() {
	configPath := flag.String("config", "", "Path to YAML config (object store credentials)")
	out := flag.String("out", "dataset.txt", "Output path or s3://bucket/object; .zst compresses")
	count := flag.Int("count", 1000000, "Number of keys")
	sigma := flag.Float64("sigma", dataset.DefaultSigma, "LogNormal sigma")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	modelOut := flag.String("model", "", "Also train a linear router and write it here")
	buckets := flag.Int("buckets", 1024, "Bucket count of the trained router")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	start := time.Now()
	keys := dataset.GenLogNormal(rand.New(rand.NewSource(*seed)), *count, *sigma)
	log.Infof("Generated %d keys in %v", len(keys), time.Since(start))

	ctx := context.Background()
	if err := dataset.Save(ctx, *out, cfg.ObjectStore, keys); err != nil {
		log.Fatalf("Write dataset: %v", err)
	}
	log.Infof("Dataset written to %s", *out)

	if *modelOut == "" {
		return
	}
	params, err := model.TrainLinearRouter(keys, *buckets, model.WithLeakySlope(cfg.Index.LeakySlope))
	if err != nil {
		log.Fatalf("Train router: %v", err)
	}
	if err := modeldesc.Save(ctx, *modelOut, cfg.ObjectStore, params); err != nil {
		log.Fatalf("Write model: %v", err)
	}
	log.Infof("Model (%d buckets) written to %s", len(params.Buckets), *modelOut)
}
