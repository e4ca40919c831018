// Package report ranks server entries and renders them as the text posted to channels.
package report

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"serverwatch/internal/state"
)

const (
	// MinPlayers hides servers below this player count.
	MinPlayers = 15
	// BusyPlayers is the threshold for the green indicator.
	BusyPlayers = 50
	// PriorityMarker pins servers whose name contains it to the top.
	PriorityMarker = "MEILENSTEIN"

	// Placeholder is rendered when no server passes the filter.
	Placeholder = "Derzeit sind keine Server aktiv."
)

const (
	indicatorBusy   = "🟢"
	indicatorActive = "🟡"
	indicatorQuiet  = "🔴"
)

// Rank filters entries to MinPlayers and orders them: priority servers first in
// input order, then the rest by players descending (stable).
func Rank(entries []state.Entry) []state.Entry {
	var priority, rest []state.Entry
	for _, e := range entries {
		if e.Players < MinPlayers {
			continue
		}
		if strings.Contains(e.Name, PriorityMarker) {
			priority = append(priority, e)
		} else {
			rest = append(rest, e)
		}
	}
	slices.SortStableFunc(rest, func(a, b state.Entry) int { return b.Players - a.Players })
	return append(priority, rest...)
}

// Build renders one line per ranked entry, or Placeholder when none qualify.
func Build(entries []state.Entry, now time.Time) string {
	ranked := Rank(entries)
	if len(ranked) == 0 {
		return Placeholder
	}
	var b strings.Builder
	for _, e := range ranked {
		b.WriteString(Indicator(e.Players))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(e.Players))
		b.WriteString(" - ")
		b.WriteString(e.Name)
		b.WriteString(" - ")
		b.WriteString(state.RemainingTime(e.MapChangedAt, e.Map, now))
		b.WriteByte('\n')
	}
	return b.String()
}

func Indicator(players int) string {
	switch {
	case players >= BusyPlayers:
		return indicatorBusy
	case players >= MinPlayers:
		return indicatorActive
	default:
		return indicatorQuiet
	}
}
