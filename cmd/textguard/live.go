package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"textguard/modules"
	"textguard/monitor"
	"textguard/process"
	"textguard/process/memory_map"
	"textguard/snapshot"
	"textguard/symbols"
	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/logger"
)

// watchProcess attaches to the configured process and monitors every
// executable mapping it has.
func watchProcess(ctx context.Context, stop context.CancelFunc, log *logger.Logger, cfg config) int {
	pid := cfg.pid
	if pid == 0 && cfg.name != "" {
		found, err := findProcess(cfg.name)
		if err != nil {
			fmt.Printf("Error finding process %q: %v\n", cfg.name, err)
			return 1
		}
		pid = found
	}
	if pid == 0 {
		fmt.Println("Error: --pid, --name or --image is required")
		return 1
	}

	proc, err := getProcess(pid)
	if err != nil {
		fmt.Printf("Error attaching to process %d: %v\n", pid, err)
		return 1
	}
	defer proc.Close()

	info, err := proc.Info()
	if err != nil {
		fmt.Printf("Error reading process info: %v\n", err)
		return 1
	}

	mm, err := proc.GetMemoryMap()
	if err != nil {
		fmt.Printf("Error reading memory map: %v\n", err)
		return 1
	}

	log.Infoln("Attached to", info.Name, "pid", pid, "exe", info.Exe)

	registry := modules.FromMemoryMap(mm, info.Exe)
	if cfg.modules != "" {
		extra, err := modules.LoadProcModulesFile(cfg.modules)
		if err != nil {
			fmt.Printf("Error loading modules: %v\n", err)
			return 1
		}
		registry = modules.NewRegistry(append(registry.Modules(), extra.Modules()...))
	}
	table := loadSymbols(log, mm, info.Exe, cfg.elf, cfg.kallsyms)
	log.Infoln("Loaded", table.Len(), "symbols,", len(registry.Modules()), "module mappings")

	cmp := textdiff.New(table, registry, comparatorOptions(cfg)...)

	var store *snapshot.Store
	if cfg.baselineDir != "" {
		store = snapshot.NewStore(cfg.baselineDir)
	}

	src := snapshot.NewProcessSource(proc)
	sessions, err := openSessions(ctx, log, mm, info.Exe, src, cmp, store, cfg.retries)
	if err != nil {
		fmt.Printf("Error capturing baselines: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("Error: no executable regions to monitor")
		return 1
	}
	if store != nil {
		warnStale(log, store, sessions)
	}

	violated := false
	onViolation := func(region textdiff.Region, report *textdiff.ViolationReport) {
		violated = true
		reportViolation(ctx, log, sessions[region.Base], src, report)

		if cfg.halt {
			if err := haltProcess(pid); err != nil {
				log.Warn("Failed to stop process ", pid, ": ", err)
			} else {
				log.Warn("Process ", pid, " stopped")
			}
			stop()
		}
	}

	m := monitor.New(
		monitor.WithInterval(cfg.interval),
		monitor.WithMaxDOP(cfg.maxdop),
		monitor.WithViolationHandler(onViolation),
		monitor.WithLogger(log),
	)
	for _, s := range sessions {
		m.Add(s)
	}

	return runMonitor(ctx, log, m, cfg.once, &violated)
}

// loadSymbols builds the symbol table from the main executable, every mapped
// shared object and an optional kallsyms file. Images without symbols are
// skipped.
func loadSymbols(log *logger.Logger, mm []memory_map.MemoryMapItem, exe, elfPath, kallsymsPath string) *symbols.Table {
	table := symbols.NewTable(nil)

	mainImage := exe
	if elfPath != "" {
		mainImage = elfPath
	}

	seen := make(map[string]bool)
	for _, item := range mm {
		if item.Offset != 0 || item.Path == "" || strings.HasPrefix(item.Path, "[") || seen[item.Path] {
			continue
		}
		seen[item.Path] = true

		path, module := item.Path, filepath.Base(item.Path)
		if item.Path == exe {
			path, module = mainImage, ""
		}

		syms, err := symbols.LoadMappedELFFile(path, item.Address, module)
		if err != nil {
			log.Debugln("No symbols for", path, err)
			continue
		}
		table = table.Merge(syms)
	}

	return mergeKallsyms(log, table, kallsymsPath)
}

func mergeKallsyms(log *logger.Logger, table *symbols.Table, path string) *symbols.Table {
	if path == "" {
		return table
	}

	syms, err := symbols.LoadKallsymsFile(path)
	if err != nil {
		log.Warn("Failed to load kallsyms: ", err)
		return table
	}
	return table.Merge(syms)
}

// openSessions creates one session per executable mapping, owned by the
// shared object it belongs to. Baselines come from store when it holds one
// for the region, otherwise they are captured now and saved there.
func openSessions(ctx context.Context, log *logger.Logger, mm []memory_map.MemoryMapItem, exe string, src snapshot.Source, cmp *textdiff.Comparator, store *snapshot.Store, retries int) (map[uint64]*monitor.Session, error) {
	sessions := make(map[uint64]*monitor.Session)
	for _, item := range memory_map.ExecutableRegions(mm, false) {
		region := textdiff.Region{Base: item.Address, Length: int(item.Size)}
		if item.Path != "" && item.Path != exe {
			region.Owner = filepath.Base(item.Path)
		}

		s, err := openSession(ctx, store, region, src, cmp, retries)
		if errors.Is(err, textdiff.ErrRegionTooSmall) || errors.Is(err, process.ErrPartialRead) {
			log.Debugln("Skipping region", item, err)
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Infoln("Monitoring", fmt.Sprintf("0x%x-0x%x", region.Base, region.End()), item.Path)
		sessions[region.Base] = s
	}

	return sessions, nil
}

func openSession(ctx context.Context, store *snapshot.Store, region textdiff.Region, src snapshot.Source, cmp *textdiff.Comparator, retries int) (*monitor.Session, error) {
	opts := []monitor.SessionOption{monitor.WithRetries(retries)}

	if store == nil {
		return monitor.Capture(ctx, region, src, cmp, opts...)
	}

	baseline, err := store.Load(region)
	if err == nil {
		return monitor.NewSession(region, baseline, src, cmp, opts...)
	}
	if !errors.Is(err, snapshot.ErrNoBaseline) {
		return nil, err
	}

	s, err := monitor.Capture(ctx, region, src, cmp, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Save(region, s.Baseline()); err != nil {
		return nil, err
	}
	return s, nil
}

// warnStale reports stored baselines for regions the process no longer maps,
// typically left behind by an earlier run against a different layout.
func warnStale(log *logger.Logger, store *snapshot.Store, sessions map[uint64]*monitor.Session) {
	stored, err := store.Regions()
	if err != nil {
		log.Warn("Failed to list stored baselines: ", err)
		return
	}

	for _, region := range stored {
		if _, ok := sessions[region.Base]; !ok {
			log.Warn("Stored baseline for ", fmt.Sprintf("0x%x", region.Base), " has no matching mapping")
		}
	}
}
