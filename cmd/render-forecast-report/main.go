package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joelkehle/forecastforge/internal/forecast"
	"github.com/joelkehle/forecastforge/internal/report"
)

// input is the saved shape of a feature and one of its forecasts.
type input struct {
	Feature  forecast.Feature  `json:"feature"`
	Forecast forecast.Forecast `json:"forecast"`
}

func main() {
	inputPath := flag.String("input", "", "Path to JSON with {feature, forecast}")
	outputPath := flag.String("output", "", "Path to write the report (defaults to stdout)")
	format := flag.String("format", "md", "Output format: md, html or pdf")
	chromePath := flag.String("chrome", os.Getenv("CHROME_PATH"), "Chromium binary for pdf output")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("missing required -input")
	}
	in, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}
	var doc input
	if err := json.Unmarshal(in, &doc); err != nil {
		log.Fatalf("decode input JSON: %v", err)
	}
	if v := forecast.ValidateContent(doc.Forecast.Content(), doc.Forecast.ImpactDirection); len(v) > 0 {
		log.Fatalf("forecast content is not schema valid: %v", v)
	}

	var out []byte
	switch *format {
	case "md":
		out = []byte(forecast.BuildMarkdown(doc.Feature, doc.Forecast))
	case "html":
		html, err := report.RenderHTML(doc.Feature, doc.Forecast)
		if err != nil {
			log.Fatalf("render html: %v", err)
		}
		out = []byte(html)
	case "pdf":
		if *outputPath == "" {
			log.Fatal("pdf output requires -output")
		}
		out, err = report.NewChromiumPDFRenderer(*chromePath, 0).RenderForecast(context.Background(), doc.Feature, doc.Forecast)
		if err != nil {
			log.Fatalf("render pdf: %v", err)
		}
	default:
		log.Fatalf("unknown -format %q", *format)
	}

	if err := write(*outputPath, out); err != nil {
		log.Fatalf("write output: %v", err)
	}
}

func write(outputPath string, b []byte) error {
	if outputPath == "" {
		_, err := fmt.Print(string(b))
		return err
	}
	return os.WriteFile(outputPath, b, 0o644)
}
