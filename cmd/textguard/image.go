package main

import (
	"context"
	"fmt"
	"os"

	"textguard/modules"
	"textguard/monitor"
	"textguard/snapshot"
	"textguard/symbols"
	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/logger"
)

// checkImage compares a memory image file, whose first byte sits at
// cfg.imageBase, with every baseline in cfg.baselineDir. The image does not
// change between reads, so violations are confirmed without retries.
func checkImage(ctx context.Context, log *logger.Logger, cfg config) int {
	if cfg.baselineDir == "" {
		fmt.Println("Error: --image requires --baseline-dir")
		return 1
	}

	store := snapshot.NewStore(cfg.baselineDir)
	regions, err := store.Regions()
	if err != nil {
		fmt.Printf("Error listing baselines: %v\n", err)
		return 1
	}

	f, err := os.Open(cfg.image)
	if err != nil {
		fmt.Printf("Error opening image: %v\n", err)
		return 1
	}
	defer f.Close()

	table := symbols.NewTable(nil)
	if cfg.elf != "" {
		syms, err := symbols.LoadELFFile(cfg.elf, 0, "")
		if err != nil {
			fmt.Printf("Error loading symbols: %v\n", err)
			return 1
		}
		table = syms
	}
	table = mergeKallsyms(log, table, cfg.kallsyms)

	registry := modules.NewRegistry(nil)
	if cfg.modules != "" {
		registry, err = modules.LoadProcModulesFile(cfg.modules)
		if err != nil {
			fmt.Printf("Error loading modules: %v\n", err)
			return 1
		}
	}

	cmp := textdiff.New(table, registry, comparatorOptions(cfg)...)
	src := snapshot.NewFileSource(f, cfg.imageBase, 0)

	sessions := make(map[uint64]*monitor.Session)
	for _, region := range regions {
		baseline, err := store.Load(region)
		if err != nil {
			fmt.Printf("Error loading baseline: %v\n", err)
			return 1
		}

		s, err := monitor.NewSession(region, baseline, src, cmp, monitor.WithRetries(0))
		if err != nil {
			fmt.Printf("Error creating session: %v\n", err)
			return 1
		}
		sessions[region.Base] = s
	}
	if len(sessions) == 0 {
		fmt.Println("Error: no stored baselines to check")
		return 1
	}

	log.Infoln("Checking", cfg.image, "against", len(sessions), "baselines")

	violated := false
	m := monitor.New(
		monitor.WithMaxDOP(cfg.maxdop),
		monitor.WithViolationHandler(func(region textdiff.Region, report *textdiff.ViolationReport) {
			violated = true
			reportViolation(ctx, log, sessions[region.Base], src, report)
		}),
		monitor.WithLogger(log),
	)
	for _, s := range sessions {
		m.Add(s)
	}

	return runMonitor(ctx, log, m, true, &violated)
}
