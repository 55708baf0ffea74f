package profile

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	gpprof "github.com/google/pprof/profile"
)

// Report renders an accumulated Profile into one of the three supported
// output formats (spec.md §4.7, §6). The concrete serializations are
// treated as pluggable sinks per spec.md §1; pprof delegates to
// google/pprof (already a teacher dependency), folded is a plain text
// format, and flamegraph is a minimal self-contained SVG renderer since
// no pack example renders flamegraph SVG natively in Go (see DESIGN.md).
type Report struct {
	entries   []Entry
	startTime time.Time
	duration  time.Duration
	frequency uint64
}

// Report snapshots the profile's current entries into a Report.
func (p *Profile) Report() *Report {
	return &Report{
		entries:   p.Entries(),
		startTime: p.StartTime,
		duration:  p.Duration,
		frequency: p.Frequency,
	}
}

type frameKey struct {
	name string
	file string
	line uint32
}

// Pprof writes the standard profile protobuf, one Sample per stack key,
// one Location per (name, file, line) frame identity, Location order
// matching the received innermost-first frame order.
func (r *Report) Pprof(w io.Writer) error {
	prof := &gpprof.Profile{
		SampleType: []*gpprof.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &gpprof.ValueType{Type: "cpu", Unit: "nanoseconds"},
		TimeNanos:  r.startTime.UnixNano(),
		DurationNanos: int64(r.duration),
	}
	if r.frequency > 0 {
		prof.Period = int64(1e9 / r.frequency)
	}

	functions := make(map[frameKey]*gpprof.Function)
	locations := make(map[frameKey]*gpprof.Location)

	locationFor := func(f ResolvedFrame) *gpprof.Location {
		key := frameKey{name: f.Name, file: f.File, line: f.Line}
		if loc, ok := locations[key]; ok {
			return loc
		}

		fn, ok := functions[key]
		if !ok {
			fn = &gpprof.Function{
				ID:       uint64(len(functions) + 1),
				Name:     f.Name,
				Filename: f.File,
			}
			functions[key] = fn
			prof.Function = append(prof.Function, fn)
		}

		loc := &gpprof.Location{
			ID:   uint64(len(locations) + 1),
			Line: []gpprof.Line{{Function: fn, Line: int64(f.Line)}},
		}
		locations[key] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	for _, entry := range r.entries {
		frames := entry.Key.Frames()
		locs := make([]*gpprof.Location, 0, len(frames))
		for _, f := range frames {
			locs = append(locs, locationFor(f))
		}
		prof.Sample = append(prof.Sample, &gpprof.Sample{
			Value:    []int64{entry.Count},
			Location: locs,
			Label:    map[string][]string{"thread": {entry.Key.ThreadName}},
		})
	}

	return prof.Write(w)
}

// foldedLines renders one "thread;frame_n;...;frame_0 count" line per
// stack key, frames from innermost to outermost reversed (outermost
// first, leaf last), matching spec.md §4.7.
func (r *Report) foldedLines() []string {
	lines := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		var b strings.Builder
		b.WriteString(entry.Key.ThreadName)
		frames := entry.Key.Frames()
		for i := len(frames) - 1; i >= 0; i-- {
			b.WriteByte(';')
			b.WriteString(frames[i].Name)
		}
		fmt.Fprintf(&b, " %d", entry.Count)
		lines = append(lines, b.String())
	}
	return lines
}

// Folded writes one line per stack key in collapsed-stack format,
// lines joined by "\n".
func (r *Report) Folded(w io.Writer) error {
	lines := r.foldedLines()
	if len(lines) == 0 {
		return nil
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}

const flamegraphSVGTemplate = `<?xml version="1.0" standalone="no"?>
<svg version="1.1" width="{{.Width}}" height="{{.Height}}" xmlns="http://www.w3.org/2000/svg">
<rect x="0" y="0" width="{{.Width}}" height="{{.Height}}" fill="#eeeeee"/>
{{range .Rects}}<g>
<title>{{.Title}}</title>
<rect x="{{.X}}" y="{{.Y}}" width="{{.W}}" height="16" fill="{{.Color}}" stroke="white"/>
<text x="{{.TextX}}" y="{{.TextY}}" font-size="10" font-family="monospace">{{.Label}}</text>
</g>
{{end}}</svg>
`

type flameRect struct {
	X, Y, W          int
	TextX, TextY     int
	Color, Title, Label string
}

type flameDoc struct {
	Width, Height int
	Rects         []flameRect
}

// flameNode is one node of the stack-merge tree folded stacks are
// rendered from: each node is a single frame name, the samples it
// accounts for, and its children keyed by frame name so identical call
// paths merge into one rectangle, exactly like Brendan Gregg's
// flamegraph.pl collapses folded input.
type flameNode struct {
	name     string
	count    int64
	children map[string]*flameNode
	order    []string
}

func newFlameNode(name string) *flameNode {
	return &flameNode{name: name, children: make(map[string]*flameNode)}
}

func (n *flameNode) child(name string) *flameNode {
	if c, ok := n.children[name]; ok {
		return c
	}
	c := newFlameNode(name)
	n.children[name] = c
	n.order = append(n.order, name)
	return c
}

// Flamegraph writes a minimal, deterministic nested-rectangle SVG flame
// graph of the collapsed stacks. It is a stdlib-only renderer (see
// DESIGN.md for why no pack library covers this) built directly on top
// of the same folded-stack representation Folded emits. Frame names
// reach the template through html/template, which HTML-escapes element
// and attribute content automatically - load-bearing since frame names
// like "<module>"/"<listcomp>" are ordinary, common Python symbols, not
// an edge case.
func (r *Report) Flamegraph(w io.Writer) error {
	root := newFlameNode("root")
	var total int64
	for _, entry := range r.entries {
		frames := entry.Key.Frames()
		path := make([]string, 0, len(frames)+1)
		path = append(path, entry.Key.ThreadName)
		for i := len(frames) - 1; i >= 0; i-- {
			path = append(path, frames[i].Name)
		}

		node := root
		for _, name := range path {
			node = node.child(name)
		}
		node.count += entry.Count
		total += entry.Count
	}
	propagateCounts(root)

	const width = 1200
	const rowHeight = 16
	depth := maxDepth(root)
	height := (depth + 1) * rowHeight

	var rects []flameRect
	if total > 0 {
		layoutFlame(root, 0, 0, width, 0, total, &rects)
	}

	tmpl := template.Must(template.New("flamegraph").Parse(flamegraphSVGTemplate))
	return tmpl.Execute(w, flameDoc{Width: width, Height: height, Rects: rects})
}

func propagateCounts(n *flameNode) int64 {
	sum := n.count
	for _, name := range n.order {
		sum += propagateCounts(n.children[name])
	}
	n.count = sum
	return sum
}

func maxDepth(n *flameNode) int {
	best := 0
	for _, name := range n.order {
		if d := 1 + maxDepth(n.children[name]); d > best {
			best = d
		}
	}
	return best
}

func layoutFlame(n *flameNode, depth, x, width, y int, total int64, rects *[]flameRect) {
	if depth > 0 {
		*rects = append(*rects, flameRect{
			X: x, Y: y, W: width,
			TextX: x + 2, TextY: y + 12,
			Color: shade(depth), Title: fmt.Sprintf("%s (%d samples)", n.name, n.count),
			Label: truncateLabel(n.name, width),
		})
	}

	childX := x
	for _, name := range n.order {
		child := n.children[name]
		childWidth := int(int64(width) * child.count / n.count)
		if childWidth < 1 {
			childWidth = 1
		}
		layoutFlame(child, depth+1, childX, childWidth, y+16, total, rects)
		childX += childWidth
	}
}

func shade(depth int) string {
	palette := []string{"#e6550d", "#fd8d3c", "#fdae6b", "#fdd0a2"}
	return palette[depth%len(palette)]
}

func truncateLabel(s string, width int) string {
	maxChars := width / 6
	if maxChars < 1 {
		maxChars = 1
	}
	if len(s) <= maxChars {
		return s
	}
	if maxChars <= 1 {
		return ""
	}
	return s[:maxChars-1] + "…"
}
