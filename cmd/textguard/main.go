package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"textguard/monitor"
	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// nopList collects repeated -nop flags.
type nopList []textdiff.NopPattern

func (n *nopList) String() string {
	parts := make([]string, len(*n))
	for i, p := range *n {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

func (n *nopList) Set(value string) error {
	p, err := textdiff.ParseNopPattern(value)
	if err != nil {
		return err
	}
	*n = append(*n, p)
	return nil
}

type config struct {
	pid         int
	name        string
	interval    time.Duration
	once        bool
	halt        bool
	kallsyms    string
	modules     string
	elf         string
	baselineDir string
	image       string
	imageBase   uint64
	maxdop      uint
	retries     int
	i386        bool
	nops        nopList
}

func main() {
	var cfg config
	flag.IntVar(&cfg.pid, "pid", 0, "Process ID to monitor")
	flag.StringVar(&cfg.name, "name", "", "Process name to monitor when --pid is not given")
	flag.DurationVar(&cfg.interval, "interval", monitor.DefaultInterval, "Time between two check rounds")
	flag.BoolVar(&cfg.once, "once", false, "Run a single check round and exit")
	flag.BoolVar(&cfg.halt, "halt", false, "Stop the process on a confirmed violation")
	flag.StringVar(&cfg.kallsyms, "kallsyms", "", "Load additional symbols from a kallsyms formatted file")
	flag.StringVar(&cfg.modules, "modules", "", "Load additional module ranges from a /proc/modules formatted file")
	flag.StringVar(&cfg.elf, "elf", "", "ELF image of the main executable (default: the process executable)")
	flag.StringVar(&cfg.baselineDir, "baseline-dir", "", "Load baselines from this directory, saving the ones missing")
	flag.StringVar(&cfg.image, "image", "", "Check a memory image against the baselines in --baseline-dir instead of a process")
	flag.Uint64Var(&cfg.imageBase, "image-base", 0, "Address of the first byte of --image")
	flag.UintVar(&cfg.maxdop, "maxdop", 1, "Number of regions checked in parallel")
	flag.IntVar(&cfg.retries, "retries", monitor.DefaultRetries, "Re-reads before a violation is confirmed")
	flag.BoolVar(&cfg.i386, "i386", false, "Decode 32-bit code and use the i386 no-op presets")
	flag.Var(&cfg.nops, "nop", "Whitelisted 5-byte no-op in hex, repeatable (default: platform presets)")
	flag.Parse()

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "textguard"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	if cfg.image != "" {
		code = checkImage(ctx, log, cfg)
	} else {
		code = watchProcess(ctx, stop, log, cfg)
	}

	stop()
	os.Exit(code)
}

// comparatorOptions turns the whitelist and address mode flags into options.
func comparatorOptions(cfg config) []textdiff.Option {
	var options []textdiff.Option

	whitelist := []textdiff.NopPattern(cfg.nops)
	if cfg.i386 {
		options = append(options, textdiff.WithAddressMode(32))
		if len(whitelist) == 0 {
			whitelist = textdiff.I386Whitelist()
		}
	}
	if len(whitelist) > 0 {
		options = append(options, textdiff.WithWhitelist(whitelist...))
	}

	return options
}

// runMonitor checks the registered sessions once, or until ctx is done, and
// returns the exit status: 0 clean, 1 failure, 2 confirmed violation.
func runMonitor(ctx context.Context, log *logger.Logger, m *monitor.Monitor, once bool, violated *bool) int {
	if once {
		failures := m.CheckAll(ctx)
		for _, s := range m.Sessions() {
			st := s.Stats()
			log.Debugln(fmt.Sprintf("region 0x%x", s.Region().Base), "patches", st.Patches, "retries", st.Retries)
		}
		if *violated {
			return 2
		}
		if len(failures) > 0 {
			return 1
		}
		log.Infoln("All", len(m.Sessions()), "regions clean")
		return 0
	}

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	if *violated {
		return 2
	}
	return 0
}
