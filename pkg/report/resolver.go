// Package report implements bulk report-field resolution: expanding one
// logical field name plus channel/loop selectors into the concrete set of
// automation operations, and reassembling their results.
package report

import (
	"context"
	"fmt"
	"strconv"
)

// Invoker executes one named automation operation. *instrument.Session
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error)
}

// ChannelLister reports the instrument's current channel configuration. It is
// queried at resolution time, not at startup, so "all" selectors reflect live
// hardware changes.
type ChannelLister interface {
	InputChannels(ctx context.Context) (int, error)
	OutputLoops(ctx context.Context) (int, error)
}

// Selector picks channels or loops for a field query: unset, a single
// 1-based index, or all configured indices.
type Selector struct {
	All   bool
	Index int // 1-based; 0 means unset
}

// Set reports whether the selector selects anything.
func (s Selector) Set() bool {
	return s.All || s.Index > 0
}

// ParseSelector parses a selector string: empty, "all", or a 1-based index.
func ParseSelector(raw string) (Selector, error) {
	if raw == "" {
		return Selector{}, nil
	}
	if raw == "all" {
		return Selector{All: true}, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return Selector{}, fmt.Errorf("selector must be a positive integer or %q, got %q", "all", raw)
	}
	return Selector{Index: n}, nil
}

// Query is one logical field request.
type Query struct {
	Field   string
	Channel Selector
	Loop    Selector
}

// Op is one concrete operation derived from a query. Channel and Loop are 0
// when the corresponding selector was unset.
type Op struct {
	Name    string
	Channel int
	Loop    int
}

// Entry is one collected result, in expansion order.
type Entry struct {
	Value   interface{} `json:"value"`
	Channel int         `json:"channel,omitempty"`
	Loop    int         `json:"loop,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FieldResult holds all entries collected for one logical field.
type FieldResult struct {
	Field   string  `json:"field"`
	Entries []Entry `json:"entries"`
	Errors  int     `json:"errors"`
}

// opName builds the concrete operation name used by the instrument: the
// channel index is appended directly to the field name, and a non-default
// loop is appended after a colon (1-based, e.g. MaxLevel2, MaxLevel2:3,
// MaxLevel:3).
func opName(field string, channel, loop int) string {
	name := field
	if channel > 0 {
		name += strconv.Itoa(channel)
	}
	if loop > 0 {
		name += ":" + strconv.Itoa(loop)
	}
	return name
}

// Expand translates a query into its ordered concrete operations. channels
// and loops are the instrument's configured counts, used when a selector is
// "all"; expansion is ascending by channel, then by loop. An "all" selector
// over zero configured indices expands to nothing.
func Expand(q Query, channels, loops int) []Op {
	chIdx := indices(q.Channel, channels)
	lpIdx := indices(q.Loop, loops)

	switch {
	case chIdx == nil && lpIdx == nil:
		return []Op{{Name: q.Field}}
	case chIdx != nil && lpIdx == nil:
		ops := make([]Op, 0, len(chIdx))
		for _, ch := range chIdx {
			ops = append(ops, Op{Name: opName(q.Field, ch, 0), Channel: ch})
		}
		return ops
	case chIdx == nil && lpIdx != nil:
		ops := make([]Op, 0, len(lpIdx))
		for _, lp := range lpIdx {
			ops = append(ops, Op{Name: opName(q.Field, 0, lp), Loop: lp})
		}
		return ops
	default:
		ops := make([]Op, 0, len(chIdx)*len(lpIdx))
		for _, ch := range chIdx {
			for _, lp := range lpIdx {
				ops = append(ops, Op{Name: opName(q.Field, ch, lp), Channel: ch, Loop: lp})
			}
		}
		return ops
	}
}

// indices resolves a selector against a configured count. nil means the
// selector was unset; an empty non-nil slice means it selected nothing.
func indices(s Selector, count int) []int {
	switch {
	case s.All:
		idx := make([]int, 0, count)
		for i := 1; i <= count; i++ {
			idx = append(idx, i)
		}
		return idx
	case s.Index > 0:
		return []int{s.Index}
	default:
		return nil
	}
}

// Collect resolves each query and invokes its concrete operations through
// inv, in expansion order. A failure on one operation is recorded on its
// entry without aborting the rest. The lister is consulted once, and only if
// some query uses an "all" selector; a lister failure is the only error
// Collect returns.
func Collect(ctx context.Context, inv Invoker, lister ChannelLister, queries []Query) ([]FieldResult, error) {
	channels, loops := 0, 0
	if anyAll(queries, func(q Query) Selector { return q.Channel }) {
		n, err := lister.InputChannels(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving input channels: %w", err)
		}
		channels = n
	}
	if anyAll(queries, func(q Query) Selector { return q.Loop }) {
		n, err := lister.OutputLoops(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving output loops: %w", err)
		}
		loops = n
	}

	results := make([]FieldResult, 0, len(queries))
	for _, q := range queries {
		ops := Expand(q, channels, loops)
		fr := FieldResult{Field: q.Field, Entries: make([]Entry, 0, len(ops))}
		for _, op := range ops {
			entry := Entry{Channel: op.Channel, Loop: op.Loop}
			value, err := inv.Invoke(ctx, op.Name)
			if err != nil {
				entry.Error = err.Error()
				fr.Errors++
			} else {
				entry.Value = value
			}
			fr.Entries = append(fr.Entries, entry)
		}
		results = append(results, fr)
	}
	return results, nil
}

func anyAll(queries []Query, sel func(Query) Selector) bool {
	for _, q := range queries {
		if sel(q).All {
			return true
		}
	}
	return false
}
