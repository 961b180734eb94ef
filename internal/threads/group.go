// Package threads orders conversation threads into time buckets for display.
package threads

import (
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/domain"
)

// Group titles that do not depend on the calendar.
const (
	TitleToday        = "Today"
	TitleYesterday    = "Yesterday"
	TitlePrevious7    = "Previous 7 Days"
	TitlePrevious30   = "Previous 30 Days"
	epochMillisDigits = 13
	epochMillisFloor  = 1e12
)

// timestampKeys are probed in priority order.
var timestampKeys = []string{"updated_at", "updated_time", "created_at", "created_time", "timestamp"}

var idEpoch = regexp.MustCompile(`\d{10,13}`)

// Group is one titled bucket of threads, newest first.
type Group struct {
	Title   string          `json:"title"`
	Threads []domain.Thread `json:"threads"`
}

// Timestamp infers when a thread was last active. Threads with no usable
// signal are treated as happening at now.
func Timestamp(t domain.Thread, now time.Time) time.Time {
	// Top-level keys all outrank metadata.
	for _, source := range []map[string]any{t.Fields, t.Metadata} {
		for _, key := range timestampKeys {
			if ts, ok := parseTime(source[key]); ok {
				return ts
			}
		}
	}
	if digits := idEpoch.FindString(t.ThreadID); digits != "" {
		n, err := strconv.ParseInt(digits, 10, 64)
		if err == nil {
			if len(digits) == epochMillisDigits {
				return time.UnixMilli(n)
			}
			return time.Unix(n, 0)
		}
	}
	if ts, ok := lastMessageTime(t.Values); ok {
		return ts
	}
	return now
}

func lastMessageTime(values map[string]any) (time.Time, bool) {
	msgs, ok := values["messages"].([]any)
	if !ok || len(msgs) == 0 {
		return time.Time{}, false
	}
	last, ok := msgs[len(msgs)-1].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	return parseTime(last["timestamp"])
}

func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00", time.DateOnly} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
	case float64:
		return fromEpoch(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return fromEpoch(f)
		}
	case int64:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if f >= epochMillisFloor {
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// boundaries are the bucket start instants for one grouping call.
type boundaries struct {
	today, yesterday, week, month, year time.Time
}

func boundariesAt(now time.Time) boundaries {
	y, m, d := now.Date()
	loc := now.Location()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return boundaries{
		today:     today,
		yesterday: today.AddDate(0, 0, -1),
		week:      today.AddDate(0, 0, -7),
		month:     today.AddDate(0, 0, -30),
		year:      time.Date(y, time.January, 1, 0, 0, 0, 0, loc),
	}
}

// GroupByTime sorts threads newest first and buckets them relative to now.
// Months of the current year follow in calendar order, then prior years
// newest first. Empty buckets are omitted.
func GroupByTime(list []domain.Thread, now time.Time) []Group {
	type stamped struct {
		thread domain.Thread
		at     time.Time
	}
	sorted := make([]stamped, len(list))
	for i, t := range list {
		sorted[i] = stamped{thread: t, at: Timestamp(t, now)}
	}
	slices.SortStableFunc(sorted, func(a, b stamped) int {
		return b.at.Compare(a.at)
	})

	b := boundariesAt(now)
	loc := now.Location()
	var today, yesterday, week, month []domain.Thread
	months := make(map[time.Month][]domain.Thread)
	years := make(map[int][]domain.Thread)

	for _, s := range sorted {
		at := s.at.In(loc)
		switch {
		case !at.Before(b.today):
			today = append(today, s.thread)
		case !at.Before(b.yesterday):
			yesterday = append(yesterday, s.thread)
		case !at.Before(b.week):
			week = append(week, s.thread)
		case !at.Before(b.month):
			month = append(month, s.thread)
		case !at.Before(b.year):
			months[at.Month()] = append(months[at.Month()], s.thread)
		default:
			years[at.Year()] = append(years[at.Year()], s.thread)
		}
	}

	var groups []Group
	add := func(title string, ts []domain.Thread) {
		if len(ts) > 0 {
			groups = append(groups, Group{Title: title, Threads: ts})
		}
	}
	add(TitleToday, today)
	add(TitleYesterday, yesterday)
	add(TitlePrevious7, week)
	add(TitlePrevious30, month)
	for m := time.January; m <= time.December; m++ {
		add(m.String(), months[m])
	}

	yearKeys := make([]int, 0, len(years))
	for y := range years {
		yearKeys = append(yearKeys, y)
	}
	slices.Sort(yearKeys)
	slices.Reverse(yearKeys)
	for _, y := range yearKeys {
		add(strconv.Itoa(y), years[y])
	}
	return groups
}
