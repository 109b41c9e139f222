package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Span is a run of bytes to highlight, relative to the start of the data.
type Span struct {
	Offset int
	Length int
}

func (s Span) contains(i int) bool {
	return i >= s.Offset && i < s.Offset+s.Length
}

// Options defines options for customizing the hexdump output
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// StartOffset is the address printed for the first byte
	StartOffset uint64

	// OffsetWidth is the width of the offset column in hex digits
	OffsetWidth int

	// Highlight lists the spans to mark
	Highlight []Span

	// Color enables ANSI colors for highlighted bytes, otherwise they are
	// wrapped in brackets
	Color bool

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		ShowASCII:    true,
		OffsetWidth:  16,
		Color:        true,
	}
}

// Dump creates a hex dump of the given data with specified options
func Dump(data []byte, options Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(writer io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}

	lineCount := 0
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lineCount >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			break
		}

		end := min(offset+options.BytesPerLine, len(data))
		formatLine(writer, data[offset:end], offset, options)

		lineCount++
	}
}

func formatLine(writer io.Writer, data []byte, offset int, options Options) {
	addr := options.StartOffset + uint64(offset)
	fmt.Fprint(writer, fmt.Sprintf("%0"+strconv.Itoa(options.OffsetWidth)+"x", addr), "  ")

	parts := make([]string, 0, options.BytesPerLine)
	for i, b := range data {
		parts = append(parts, mark(fmt.Sprintf("%02x", b), offset+i, options))
	}
	for len(parts) < options.BytesPerLine {
		parts = append(parts, "  ")
	}
	fmt.Fprint(writer, strings.Join(parts, " "))

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		for i, b := range data {
			c := "."
			if r := rune(b); b < 0x7f && unicode.IsPrint(r) {
				c = string(r)
			}
			fmt.Fprint(writer, mark(c, offset+i, options))
		}
	}

	fmt.Fprintln(writer)
}

// mark decorates text when the byte at index i is highlighted.
func mark(text string, i int, options Options) string {
	if !highlighted(i, options.Highlight) {
		return text
	}
	if options.Color {
		return coloransi.Color(coloransi.Red, coloransi.ColorOrange, text)
	}
	if len(text) == 1 {
		return "*"
	}
	return "[" + text + "]"
}

func highlighted(i int, spans []Span) bool {
	for _, s := range spans {
		if s.contains(i) {
			return true
		}
	}
	return false
}

// Window renders data located at start with the given spans highlighted.
func Window(data []byte, start uint64, highlight ...Span) string {
	options := DefaultOptions()
	options.StartOffset = start
	options.Highlight = highlight
	return Dump(data, options)
}

// Differences returns the spans where a and b differ. Bytes past the end of
// the shorter slice count as different.
func Differences(a, b []byte) []Span {
	var spans []Span

	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		same := i < len(a) && i < len(b) && a[i] == b[i]
		if same {
			continue
		}
		if k := len(spans) - 1; k >= 0 && spans[k].Offset+spans[k].Length == i {
			spans[k].Length++
			continue
		}
		spans = append(spans, Span{Offset: i, Length: 1})
	}

	return spans
}

// Diff renders the baseline and live copies of a region around offset, with
// every differing byte highlighted. context is the number of bytes shown on
// each side of offset, rounded out to whole lines.
func Diff(baseline, live []byte, base uint64, offset, context int, color bool) string {
	options := DefaultOptions()
	options.Color = color

	n := min(len(baseline), len(live))
	if n == 0 {
		return ""
	}
	offset = min(max(offset, 0), n-1)

	from := max(offset-context, 0)
	from -= from % options.BytesPerLine
	to := min(offset+context+1, n)

	options.StartOffset = base + uint64(from)
	options.Highlight = Differences(baseline[from:to], live[from:to])

	var sb strings.Builder
	sb.WriteString("baseline:\n")
	DumpToWriter(&sb, baseline[from:to], options)
	sb.WriteString("live:\n")
	DumpToWriter(&sb, live[from:to], options)
	return sb.String()
}
