// Package main classifies a tick dump file in one shot and prints the
// tier statistics as JSON.
//
// Input is a JSON document of the same shape the server's classify
// endpoint accepts:
//
//	{"symbol": "603001", "prev_close": "10.40",
//	 "ticks": [{"seq":1,"time":1756345800000,"price":"10.52","volume":30000,"side":"buy"}]}
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"stock-order-flow/internal/classify"
	"stock-order-flow/internal/config"
	"stock-order-flow/internal/domain"
)

type dumpFile struct {
	Symbol    string     `json:"symbol"`
	PrevClose string     `json:"prev_close"`
	Ticks     []dumpTick `json:"ticks"`
}

type dumpTick struct {
	Seq    int64  `json:"seq"`
	Time   int64  `json:"time"`
	Price  string `json:"price"`
	Volume int64  `json:"volume"`
	Side   string `json:"side"`
}

func main() {
	input := flag.String("input", "", "Tick dump file (JSON), - for stdin")
	configPath := flag.String("config", "", "Optional config directory for custom tier thresholds")
	ordersOut := flag.Bool("orders", false, "Include every classified order in the output")
	flag.Parse()

	if *input == "" {
		log.Fatal("--input is required")
	}

	thresholds := domain.DefaultTierThresholds()
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		if len(cfg.Classify.Tiers) > 0 {
			thresholds = thresholds[:0]
			for _, tc := range cfg.Classify.Tiers {
				thresholds = append(thresholds, domain.TierThreshold{
					Tier:      domain.Tier(tc.Name),
					MinAmount: decimal.NewFromFloat(tc.MinAmount),
				})
			}
		}
	}

	dump, err := readDump(*input)
	if err != nil {
		log.Fatalf("read dump: %v", err)
	}

	prevClose := decimal.Zero
	if dump.PrevClose != "" {
		if prevClose, err = decimal.NewFromString(dump.PrevClose); err != nil {
			log.Fatalf("bad prev_close %q: %v", dump.PrevClose, err)
		}
	}

	ticks := make([]domain.Tick, 0, len(dump.Ticks))
	for i, in := range dump.Ticks {
		price, err := decimal.NewFromString(in.Price)
		if err != nil {
			price = decimal.Zero // counted as malformed downstream
		}
		seq := in.Seq
		if seq == 0 {
			seq = int64(i + 1)
		}
		ticks = append(ticks, domain.NewTick(seq, dump.Symbol, in.Time, price, in.Volume, domain.Side(in.Side), "dump"))
	}

	result, err := classify.Classify(ticks, thresholds, prevClose)
	if err != nil {
		log.Fatalf("classify: %v", err)
	}

	out := map[string]any{
		"symbol":    dump.Symbol,
		"ticks":     len(ticks),
		"malformed": result.Malformed,
		"stats":     result.Stats,
	}
	if *ordersOut {
		out["orders"] = result.Orders
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

func readDump(path string) (*dumpFile, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var dump dumpFile
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(dump.Ticks) == 0 {
		return nil, fmt.Errorf("%s contains no ticks", path)
	}
	return &dump, nil
}
