package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joelkehle/forecastforge/internal/config"
	"github.com/joelkehle/forecastforge/internal/forecast"
)

// input is a feature plus its evidence, as exported from the API.
type input struct {
	Feature  forecast.Feature    `json:"feature"`
	Evidence []forecast.Evidence `json:"evidence"`
}

func main() {
	inputPath := flag.String("input", "", "Path to JSON with {feature, evidence}")
	configPath := flag.String("config", "", "Optional YAML config carrying scoring overrides")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("missing required -input")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	in, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}
	var doc input
	if err := json.Unmarshal(in, &doc); err != nil {
		log.Fatalf("decode input JSON: %v", err)
	}

	strength := forecast.AggregateEvidence(doc.Evidence, cfg.Scoring)
	score, err := forecast.Compute(doc.Feature, strength, len(doc.Evidence), cfg.Scoring)
	if err != nil {
		log.Fatalf("score: %v", err)
	}
	b, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println(string(b))
}
