package hexdump_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"textguard/hexdump"
)

func TestDumpPlain(t *testing.T) {
	options := hexdump.Options{
		BytesPerLine: 4,
		OffsetWidth:  4,
		StartOffset:  0x10,
		ShowASCII:    true,
		Highlight:    []hexdump.Span{{Offset: 1, Length: 1}},
	}

	got := hexdump.Dump([]byte{0x41, 0x00}, options)
	want := "0010  41 [00]       | A*\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dump mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpMaxLines(t *testing.T) {
	options := hexdump.Options{BytesPerLine: 4, OffsetWidth: 4, MaxLines: 1}

	got := hexdump.Dump([]byte{1, 2, 3, 4, 5, 6, 7}, options)
	want := "0000  01 02 03 04\n... 3 more bytes\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dump mismatch (-want +got):\n%s", diff)
	}
}

func TestDifferences(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want []hexdump.Span
	}{
		{name: "equal", a: []byte{1, 2, 3}, b: []byte{1, 2, 3}},
		{name: "one", a: []byte{1, 2, 3}, b: []byte{1, 9, 3}, want: []hexdump.Span{{Offset: 1, Length: 1}}},
		{name: "merged", a: []byte{1, 2, 3, 4}, b: []byte{1, 9, 9, 4}, want: []hexdump.Span{{Offset: 1, Length: 2}}},
		{name: "split", a: []byte{1, 2, 3, 4}, b: []byte{9, 2, 3, 9}, want: []hexdump.Span{{Offset: 0, Length: 1}, {Offset: 3, Length: 1}}},
		{name: "longer", a: []byte{1}, b: []byte{1, 2, 3}, want: []hexdump.Span{{Offset: 1, Length: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hexdump.Differences(tt.a, tt.b)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Differences mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	baseline := []byte(strings.Repeat("\xcc", 32))
	live := []byte(strings.Repeat("\xcc", 32))
	copy(baseline[4:], []byte{0x0f, 0x1f, 0x44, 0x00, 0x00})
	copy(live[4:], []byte{0xe9, 0x03, 0x00, 0x00, 0x00})

	got := hexdump.Diff(baseline, live, 0x401000, 4, 4, false)

	for _, want := range []string{
		"baseline:\n0000000000401000  cc cc cc cc [0f] [1f] [44] 00 00",
		"live:\n0000000000401000  cc cc cc cc [e9] [03] [00] 00 00",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

func TestDiffEmpty(t *testing.T) {
	if got := hexdump.Diff(nil, nil, 0, 0, 4, false); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}

func TestWindowColors(t *testing.T) {
	got := hexdump.Window([]byte{0x90, 0x90}, 0x1000, hexdump.Span{Offset: 0, Length: 1})
	if !strings.Contains(got, "\033[") {
		t.Errorf("expected ANSI escapes in %q", got)
	}
	if !strings.HasPrefix(got, "0000000000001000  ") {
		t.Errorf("unexpected address column in %q", got)
	}
}
