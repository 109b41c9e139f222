package textdiff_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"textguard/textdiff"
)

const testBase = 0xffffffff81000000

type symRange struct {
	start, end uint64
	name       string
}

// rangeResolver resolves addresses against half-open [start, end) ranges.
type rangeResolver []symRange

func (r rangeResolver) ResolveSymbol(addr uint64) string {
	for _, s := range r {
		if addr >= s.start && addr < s.end {
			return s.name
		}
	}
	return ""
}

// fixedModule places every address in [start, end) in module name.
func fixedModule(start, end uint64, name string) textdiff.ModuleLocator {
	return textdiff.ModuleLocatorFunc(func(addr uint64) (string, bool) {
		if addr >= start && addr < end {
			return name, true
		}
		return "", false
	})
}

// filled returns n bytes of int3 padding.
func filled(n int) []byte {
	return bytes.Repeat([]byte{0xcc}, n)
}

// place copies the 5-byte sequence b into buf at off.
func place(buf []byte, off int, b []byte) []byte {
	copy(buf[off:], b)
	return buf
}

var (
	nop  = textdiff.P6Nop5[:]
	jmp3 = []byte{0xe9, 0x03, 0x00, 0x00, 0x00}
)

func TestCompareScenarioSameFunction(t *testing.T) {
	baseline := place(filled(16), 2, nop)
	live := place(filled(16), 2, jmp3)

	// instrVA = base+2, destination = base+2+5+3 = base+10
	resolver := rangeResolver{{testBase, testBase + 16, "foo"}}
	c := textdiff.New(resolver, nil)

	region := textdiff.Region{Base: testBase, Length: 16}
	if err := c.Compare(live, baseline, region); err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}

	if diff := cmp.Diff(live[2:7], baseline[2:7]); diff != "" {
		t.Errorf("baseline not reconciled (-live +baseline):\n%s", diff)
	}
}

func TestCompareScenarioOtherFunction(t *testing.T) {
	baseline := place(filled(16), 2, nop)
	live := place(filled(16), 2, jmp3)
	original := append([]byte(nil), baseline...)

	resolver := rangeResolver{
		{testBase, testBase + 8, "foo"},
		{testBase + 8, testBase + 16, "bar"},
	}
	c := textdiff.New(resolver, nil)

	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})

	var report *textdiff.ViolationReport
	if !errors.As(err, &report) {
		t.Fatalf("expected *ViolationReport, got %v", err)
	}
	if !errors.Is(err, textdiff.ErrSymbolMismatch) {
		t.Errorf("expected ErrSymbolMismatch, got %v", report.Kind)
	}

	want := &textdiff.ViolationReport{
		Kind:         textdiff.ErrSymbolMismatch,
		Offset:       2,
		Direction:    textdiff.DirectionNopToJump,
		Baseline:     nop,
		Live:         jmp3,
		Decoded:      true,
		Displacement: 3,
		SourceVA:     testBase + 2,
		DestVA:       testBase + 10,
		SourceSymbol: "foo",
		DestSymbol:   "bar",
	}
	if diff := cmp.Diff(*want, *report, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	if !bytes.Equal(baseline, original) {
		t.Errorf("baseline modified on violation: % x", baseline)
	}
}

func TestCompareColdPath(t *testing.T) {
	tests := []struct {
		name    string
		region  textdiff.Region
		sym     string
		target  string
		modules textdiff.ModuleLocator
		wantErr error
	}{
		{
			name:   "core",
			region: textdiff.Region{Base: testBase, Length: 16},
			sym:    "foo",
			target: "foo.cold.3",
		},
		{
			name:    "core-jump-into-module",
			region:  textdiff.Region{Base: testBase, Length: 16},
			sym:     "foo",
			target:  "foo.cold.3",
			modules: fixedModule(testBase+8, testBase+16, "ext4"),
			wantErr: textdiff.ErrSymbolMismatch,
		},
		{
			name:    "module",
			region:  textdiff.Region{Base: testBase, Length: 16, Owner: "ext4"},
			sym:     "foo [ext4]",
			target:  "foo.cold.3 [ext4]",
			modules: fixedModule(testBase, testBase+16, "ext4"),
		},
		{
			name:    "module-other-owner",
			region:  textdiff.Region{Base: testBase, Length: 16, Owner: "ext4"},
			sym:     "foo [ext4]",
			target:  "foo.cold.3 [xfs]",
			modules: fixedModule(testBase, testBase+16, "xfs"),
			wantErr: textdiff.ErrSymbolMismatch,
		},
		{
			name:    "module-destination-in-core",
			region:  textdiff.Region{Base: testBase, Length: 16, Owner: "ext4"},
			sym:     "foo [ext4]",
			target:  "foo.cold.3",
			wantErr: textdiff.ErrSymbolMismatch,
		},
		{
			name:    "prefix-is-not-cold",
			region:  textdiff.Region{Base: testBase, Length: 16},
			sym:     "foo",
			target:  "foo_bar",
			wantErr: textdiff.ErrSymbolMismatch,
		},
		{
			name:    "other-function-cold",
			region:  textdiff.Region{Base: testBase, Length: 16},
			sym:     "foo",
			target:  "bar.cold.1",
			wantErr: textdiff.ErrSymbolMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseline := place(filled(16), 2, nop)
			live := place(filled(16), 2, jmp3)

			resolver := rangeResolver{
				{testBase, testBase + 8, tt.sym},
				{testBase + 8, testBase + 16, tt.target},
			}
			c := textdiff.New(resolver, tt.modules)

			err := c.Compare(live, baseline, tt.region)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected violation: %v", err)
				}
				if !bytes.Equal(baseline, live) {
					t.Errorf("baseline not reconciled: % x", baseline)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCompareJumpToNop(t *testing.T) {
	resolver := rangeResolver{
		{testBase, testBase + 8, "foo"},
		{testBase + 8, testBase + 16, "foo.cold.0"},
	}

	t.Run("accepted", func(t *testing.T) {
		baseline := place(filled(16), 2, jmp3)
		live := place(filled(16), 2, textdiff.K8Nop5[:])

		c := textdiff.New(resolver, nil)
		if err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16}); err != nil {
			t.Fatalf("unexpected violation: %v", err)
		}
		if !bytes.Equal(baseline, live) {
			t.Errorf("baseline not reconciled: % x", baseline)
		}
	})

	t.Run("not-a-jump", func(t *testing.T) {
		// call rel32 instead of jmp rel32
		baseline := place(filled(16), 2, []byte{0xe8, 0x03, 0x00, 0x00, 0x00})
		live := place(filled(16), 2, nop)

		c := textdiff.New(resolver, nil)
		err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})

		var report *textdiff.ViolationReport
		if !errors.As(err, &report) {
			t.Fatalf("expected *ViolationReport, got %v", err)
		}
		if !errors.Is(err, textdiff.ErrBadOpcode) {
			t.Errorf("expected ErrBadOpcode, got %v", report.Kind)
		}
		if !report.Anomalous {
			t.Error("expected JMP->NOP bad opcode to be anomalous")
		}
		if report.Decoded {
			t.Error("expected no decoded addresses")
		}
	})

	t.Run("jump-left-function", func(t *testing.T) {
		baseline := place(filled(16), 2, jmp3)
		live := place(filled(16), 2, nop)

		other := rangeResolver{
			{testBase, testBase + 8, "foo"},
			{testBase + 8, testBase + 16, "bar"},
		}
		c := textdiff.New(other, nil)
		err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})

		var report *textdiff.ViolationReport
		if !errors.As(err, &report) || !report.Anomalous {
			t.Fatalf("expected anomalous violation, got %v", err)
		}
	})
}

func TestCompareNopToBadOpcode(t *testing.T) {
	baseline := place(filled(16), 2, nop)
	live := place(filled(16), 2, []byte{0xeb, 0x03, 0x90, 0x90, 0x90}) // jmp rel8

	c := textdiff.New(rangeResolver{{testBase, testBase + 16, "foo"}}, nil)
	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})

	var report *textdiff.ViolationReport
	if !errors.As(err, &report) {
		t.Fatalf("expected *ViolationReport, got %v", err)
	}
	if !errors.Is(err, textdiff.ErrBadOpcode) {
		t.Errorf("expected ErrBadOpcode, got %v", report.Kind)
	}
	if report.Anomalous {
		t.Error("NOP->JMP bad opcode must not be anomalous")
	}
}

func TestCompareNoFalseAcceptAcrossFunctions(t *testing.T) {
	names := [][2]string{
		{"aaa", "bbb"},
		{"vfs_read", "vfs_open"},
		{"foo [ext4]", "bar [ext4]"},
	}

	for _, pair := range names {
		t.Run(pair[0]+"->"+pair[1], func(t *testing.T) {
			baseline := place(filled(16), 2, nop)
			live := place(filled(16), 2, jmp3)

			resolver := rangeResolver{
				{testBase, testBase + 8, pair[0]},
				{testBase + 8, testBase + 16, pair[1]},
			}
			c := textdiff.New(resolver, nil)

			err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})
			if !errors.Is(err, textdiff.ErrSymbolMismatch) {
				t.Fatalf("expected ErrSymbolMismatch, got %v", err)
			}
		})
	}
}

func TestCompareFirstViolationWins(t *testing.T) {
	baseline := place(filled(32), 16, nop)
	live := place(filled(32), 16, jmp3)
	live[3] = 0x90
	original := append([]byte(nil), baseline...)

	c := textdiff.New(rangeResolver{{testBase, testBase + 32, "foo"}}, nil)
	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 32})

	var report *textdiff.ViolationReport
	if !errors.As(err, &report) {
		t.Fatalf("expected *ViolationReport, got %v", err)
	}
	if report.Offset != 3 {
		t.Errorf("expected offset 3, got %d", report.Offset)
	}
	if !errors.Is(err, textdiff.ErrUnrecognizedDifference) {
		t.Errorf("expected ErrUnrecognizedDifference, got %v", report.Kind)
	}
	if diff := cmp.Diff(original, baseline); diff != "" {
		t.Errorf("later patch applied after violation (-want +got):\n%s", diff)
	}
}

func TestCompareKeepsEarlierPatchesOnViolation(t *testing.T) {
	baseline := place(filled(32), 0, nop)
	live := place(filled(32), 0, jmp3)
	live[20] = 0x00

	c := textdiff.New(rangeResolver{{testBase, testBase + 32, "foo"}}, nil)
	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 32})
	if !errors.Is(err, textdiff.ErrUnrecognizedDifference) {
		t.Fatalf("expected ErrUnrecognizedDifference, got %v", err)
	}

	if !bytes.Equal(baseline[:5], jmp3) {
		t.Errorf("expected accepted patch to stay applied, got % x", baseline[:5])
	}
	if baseline[20] != 0xcc {
		t.Errorf("violating byte must not be copied, got 0x%02x", baseline[20])
	}
}

func TestCompareIdempotent(t *testing.T) {
	baseline := place(place(filled(32), 2, nop), 20, jmp3)
	live := place(place(filled(32), 2, jmp3), 20, textdiff.K8Nop5[:])

	c := textdiff.New(rangeResolver{{testBase, testBase + 32, "foo"}}, nil)

	region := textdiff.Region{Base: testBase, Length: 32}
	patches, err := c.Reconcile(live, baseline, region)
	if err != nil {
		t.Fatalf("first compare: %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("expected 2 patches, got %d", len(patches))
	}
	if patches[0].Direction != textdiff.DirectionNopToJump || patches[1].Direction != textdiff.DirectionJumpToNop {
		t.Errorf("unexpected directions: %s, %s", patches[0].Direction, patches[1].Direction)
	}
	if patches[1].Offset != 20 || patches[1].DestVA != testBase+28 {
		t.Errorf("unexpected second patch: %+v", patches[1])
	}

	snapshot := append([]byte(nil), baseline...)
	patches, err = c.Reconcile(live, baseline, region)
	if err != nil {
		t.Fatalf("second compare: %v", err)
	}
	if diff := cmp.Diff(snapshot, baseline); diff != "" {
		t.Errorf("second compare mutated baseline (-want +got):\n%s", diff)
	}
	if len(patches) != 0 {
		t.Errorf("second compare reported %d patches", len(patches))
	}
}

func TestCompareTrailingDifference(t *testing.T) {
	baseline := filled(16)
	live := filled(16)
	live[13] = 0x90

	c := textdiff.New(rangeResolver{{testBase, testBase + 16, "foo"}}, nil)
	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})

	var report *textdiff.ViolationReport
	if !errors.As(err, &report) {
		t.Fatalf("expected *ViolationReport, got %v", err)
	}
	if !errors.Is(err, textdiff.ErrUnrecognizedDifference) {
		t.Errorf("expected ErrUnrecognizedDifference, got %v", report.Kind)
	}
	if len(report.Live) != 3 {
		t.Errorf("expected a 3-byte window, got % x", report.Live)
	}
}

func TestCompareUnresolvedSymbols(t *testing.T) {
	baseline := place(filled(16), 2, nop)
	live := place(filled(16), 2, jmp3)

	c := textdiff.New(rangeResolver{}, nil)
	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})
	if !errors.Is(err, textdiff.ErrSymbolMismatch) {
		t.Fatalf("expected ErrSymbolMismatch, got %v", err)
	}
}

func TestCompareColdPathNameOverflow(t *testing.T) {
	baseline := place(filled(16), 2, nop)
	live := place(filled(16), 2, jmp3)

	resolver := rangeResolver{
		{testBase, testBase + 8, "longname"},
		{testBase + 8, testBase + 16, "longname.cold.1"},
	}
	c := textdiff.New(resolver, nil, textdiff.WithSymbolNameLimit(14))

	err := c.Compare(live, baseline, textdiff.Region{Base: testBase, Length: 16})
	if !errors.Is(err, textdiff.ErrColdPathNameOverflow) {
		t.Fatalf("expected ErrColdPathNameOverflow, got %v", err)
	}
	if !errors.Is(err, textdiff.ErrSymbolMismatch) {
		t.Errorf("overflow must also be a symbol mismatch")
	}
}

func TestCompareCustomWhitelist(t *testing.T) {
	baseline := place(filled(16), 2, textdiff.GenericNop5[:])
	live := place(filled(16), 2, jmp3)
	resolver := rangeResolver{{testBase, testBase + 16, "foo"}}
	region := textdiff.Region{Base: testBase, Length: 16}

	amd64 := textdiff.New(resolver, nil)
	if err := amd64.Compare(live, append([]byte(nil), baseline...), region); !errors.Is(err, textdiff.ErrUnrecognizedDifference) {
		t.Fatalf("expected ErrUnrecognizedDifference with the amd64 table, got %v", err)
	}

	i386 := textdiff.New(resolver, nil,
		textdiff.WithWhitelist(textdiff.I386Whitelist()...),
		textdiff.WithAddressMode(32))
	if err := i386.Compare(live, baseline, region); err != nil {
		t.Fatalf("unexpected violation with the i386 table: %v", err)
	}
}

func TestComparePreconditions(t *testing.T) {
	c := textdiff.New(rangeResolver{}, nil)

	if err := c.Compare(filled(8), filled(9), textdiff.Region{Base: testBase, Length: 8}); !errors.Is(err, textdiff.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if err := c.Compare(filled(8), filled(8), textdiff.Region{Base: testBase, Length: 16}); !errors.Is(err, textdiff.ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch for region length, got %v", err)
	}
	if err := c.Compare(filled(4), filled(4), textdiff.Region{Base: testBase, Length: 4}); !errors.Is(err, textdiff.ErrRegionTooSmall) {
		t.Errorf("expected ErrRegionTooSmall, got %v", err)
	}
}
