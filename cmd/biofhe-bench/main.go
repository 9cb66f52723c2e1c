// Command biofhe-bench times encrypted authentications per strategy.
//
// Usage:
//
//	biofhe-bench -dataset BMDB2 -data ./data -pairs 20
//	biofhe-bench -engine cleartext -strategies classic-cpu,multibit-cpu
//
// Without -data the run uses synthetic diagonal score tables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/luxfi/biofhe"
	"github.com/luxfi/biofhe/internal/tables"
	"github.com/luxfi/biofhe/server"
)

var (
	engineName   = flag.String("engine", server.EngineTFHE, "engine: tfhe or cleartext")
	dataset      = flag.String("dataset", "BMDB2", "dataset preset")
	dataDir      = flag.String("data", "", "dataset directory; synthetic tables when empty")
	pairs        = flag.Int("pairs", 10, "probe/template pairs per strategy")
	strategyList = flag.String("strategies", "", "comma-separated strategies (default all)")
	workers      = flag.Int("workers", 0, "lookup workers per authentication")
	earlyStop    = flag.Bool("early-stop", false, "drop trailing zero digit lookups")
	verbose      = flag.Bool("v", false, "verbose output")
)

// pair is one authentication attempt and its expected outcome.
type pair struct {
	probe, template []biofhe.Code
	genuine         bool
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := biofhe.Preset(*dataset)
	if err != nil {
		return err
	}
	scoreTables, attempts, err := workload(cfg)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := biofhe.NewTextLogger(level)

	var opts []biofhe.CompilerOption
	opts = append(opts, biofhe.WithCompilerLogger(logger))
	if *earlyStop {
		opts = append(opts, biofhe.WithEarlyStop())
	}
	compiler, err := biofhe.NewCompiler(cfg, scoreTables, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	engine, err := server.NewEngine(*engineName, cfg, "")
	if err != nil {
		return err
	}

	fmt.Printf("Dataset: %s\n", cfg)
	fmt.Printf("Engine: %s (setup %v)\n", *engineName, time.Since(start).Round(time.Millisecond))
	fmt.Printf("Pairs: %d\n", len(attempts))
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	names := biofhe.StrategyNames()
	if *strategyList != "" {
		names = strings.Split(*strategyList, ",")
	}
	for _, name := range names {
		if err := benchStrategy(engine, cfg, compiler, logger, strings.TrimSpace(name), attempts); err != nil {
			return err
		}
	}
	return nil
}

func benchStrategy(engine biofhe.Engine, cfg biofhe.Config, compiler *biofhe.Compiler, logger *biofhe.Logger, name string, attempts []pair) error {
	strategy, err := biofhe.ParseStrategy(name)
	if err != nil {
		return err
	}
	if *workers > 0 {
		strategy.Workers = *workers
	}
	p, err := biofhe.NewPipeline(engine, cfg, strategy, biofhe.WithLogger(logger))
	if errors.Is(err, biofhe.ErrNoAccelerator) {
		fmt.Printf("%-18s skipped: %v\n", strategy, biofhe.ErrNoAccelerator)
		return nil
	}
	if err != nil {
		return err
	}
	if strategy.Mode == biofhe.MultiBit && *engineName == server.EngineTFHE {
		fmt.Printf("%-18s note: tfhe runs multibit lookups as classic blind rotation\n", strategy)
	}

	ctx := context.Background()
	var (
		timings  stats.Float64Data
		correct  int
		failures int
	)
	for _, a := range attempts {
		set, err := compiler.Compile(a.template)
		if err != nil {
			return err
		}
		t0 := time.Now()
		match, err := p.Verify(ctx, a.probe, set)
		elapsed := time.Since(t0)
		if errors.Is(err, biofhe.ErrVerificationFailed) {
			failures++
			if *verbose {
				fmt.Printf("  %s: %v\n", strategy, biofhe.ErrVerificationFailed)
			}
			continue
		}
		if err != nil {
			return err
		}
		timings = append(timings, float64(elapsed.Microseconds())/1000)
		if match == a.genuine {
			correct++
		}
	}
	printSummary(strategy, timings, correct, failures)
	return nil
}

func printSummary(strategy biofhe.Strategy, timings stats.Float64Data, correct, failures int) {
	if len(timings) == 0 {
		fmt.Printf("%-18s no successful runs (%d failed)\n", strategy, failures)
		return
	}
	mean, _ := timings.Mean()
	median, _ := timings.Median()
	p95, _ := timings.Percentile(95)
	stddev, _ := timings.StandardDeviation()
	minimum, _ := timings.Min()
	maximum, _ := timings.Max()
	fmt.Printf("%-18s mean %9.2fms  median %9.2fms  p95 %9.2fms  sd %8.2fms  min %9.2fms  max %9.2fms  correct %d/%d",
		strategy, mean, median, p95, stddev, minimum, maximum, correct, len(timings))
	if failures > 0 {
		fmt.Printf("  failed %d", failures)
	}
	fmt.Println()
}

// workload returns the score tables and pairs to run. Genuine pairs compare a
// sample with itself and impostor pairs compare neighbours.
func workload(cfg biofhe.Config) ([]biofhe.ScoreTable, []pair, error) {
	if *dataDir == "" {
		return synthetic(cfg)
	}
	provider := tables.NewProvider(*dataDir, cfg)
	scoreTables, err := provider.ScoreTables()
	if err != nil {
		return nil, nil, err
	}
	attempts := make([]pair, 0, *pairs)
	for i := 1; len(attempts) < *pairs; i++ {
		templateID := i
		probeID := i
		genuine := i%2 == 1
		if !genuine {
			probeID = i + 1
		}
		probe, template, err := provider.ProbeAndTemplate(probeID, templateID)
		if err != nil {
			return nil, nil, err
		}
		attempts = append(attempts, pair{probe: probe, template: template, genuine: genuine})
	}
	return scoreTables, attempts, nil
}

const syntheticBins = 8

// synthetic builds tables that reward equal codes and penalise distance.
func synthetic(cfg biofhe.Config) ([]biofhe.ScoreTable, []pair, error) {
	scoreTables := make([]biofhe.ScoreTable, cfg.Features())
	for f := range scoreTables {
		t := make(biofhe.ScoreTable, syntheticBins)
		for i := range t {
			t[i] = make([]int32, syntheticBins)
			for j := range t[i] {
				d := int32(i - j)
				if d < 0 {
					d = -d
				}
				t[i][j] = -d
				if d == 0 {
					t[i][j] = 3
				}
			}
		}
		scoreTables[f] = t
	}

	rng := rand.New(rand.NewPCG(1, 2))
	attempts := make([]pair, *pairs)
	for i := range attempts {
		template := make([]biofhe.Code, cfg.Features())
		probe := make([]biofhe.Code, cfg.Features())
		for f := range template {
			template[f] = biofhe.Code(rng.IntN(syntheticBins))
			probe[f] = template[f]
		}
		genuine := i%2 == 0
		if !genuine {
			for f := range probe {
				probe[f] = biofhe.Code((int(template[f]) + 1 + rng.IntN(syntheticBins-1)) % syntheticBins)
			}
		}
		attempts[i] = pair{probe: probe, template: template, genuine: genuine}
	}
	return scoreTables, attempts, nil
}
