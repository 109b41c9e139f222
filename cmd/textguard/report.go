package main

import (
	"context"
	"fmt"

	"textguard/hexdump"
	"textguard/monitor"
	"textguard/snapshot"
	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/logger"
)

// diffContext is how many bytes around a violation are dumped.
const diffContext = 32

func reportViolation(ctx context.Context, log *logger.Logger, s *monitor.Session, src snapshot.Source, report *textdiff.ViolationReport) {
	region := s.Region()
	log.Warn("Violation in region ", fmt.Sprintf("0x%x", region.Base), ": ", report)

	live, err := src.Read(ctx, region)
	if err != nil {
		// the report still carries both windows at the violation
		log.Warn("Failed to re-read region: ", err)
		at := region.Base + uint64(report.Offset)
		diffs := hexdump.Differences(report.Baseline, report.Live)
		fmt.Print("baseline:\n", hexdump.Window(report.Baseline, at, diffs...))
		fmt.Print("live:\n", hexdump.Window(report.Live, at, diffs...))
		return
	}

	fmt.Print(hexdump.Diff(s.Baseline(), live, region.Base, report.Offset, diffContext, true))
}
