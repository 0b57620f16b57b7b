// Package dump implements the three text report formats external callers
// use to inspect accumulated statistics without decoding current.bin
// themselves: a grouped human-readable dump, a line-oriented "checkin"
// dump meant for machine collection, and a tab-separated CSV dump over a
// caller-selected cross-product of screen/mem/process-state dimensions.
//
// These are read-only reports: every function here only calls GlobalState's
// range/aggregate accessors, never a mutating method. Grounded on the
// teacher's GlogFormatter (internal/logger/log.go in this tree): build each
// line into a bytes.Buffer, then write it in one call.
//
// Column/tag vocabulary (state names, single-letter tags, csv names) is
// pinned to ProcessTracker.java's STATE_NAMES/STATE_TAGS/STATE_NAMES_CSV and
// sibling tables, so a checkin/csv consumer written against the original
// tracker's output reads the same columns here.
package dump

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"procstats/internal/global"
	"procstats/internal/procrecord"
	"procstats/internal/registry"
	"procstats/internal/servicerecord"
	"procstats/internal/state"
)

// stateNames are padded for aligned human-dump columns.
var stateNames = [state.StateCount]string{
	"Persistent ", "Top        ", "Foreground ", "Visible    ", "Perceptible",
	"Backup     ", "Service    ", "Home       ", "Previous   ", "Cached     ",
}

var StateNamesCSV = [state.StateCount]string{
	"pers", "top", "fore", "vis", "percept",
	"backup", "service", "home", "prev", "cached",
}

var stateTags = [state.StateCount]string{
	"y", "t", "f", "v", "r",
	"b", "s", "h", "p", "c",
}

var ScreenNamesCSV = [2]string{"off", "on"}
var screenTags = [2]string{"0", "1"}

var MemNamesCSV = [4]string{"norm", "mod", "low", "crit"}
var memTags = [4]string{"n", "m", "l", "c"}

// FormatDuration renders a millisecond duration the way the human dump wants
// it: "1h23m45s678ms", dropping leading zero-valued units.
func FormatDuration(ms int64) string {
	if ms == 0 {
		return "0ms"
	}
	neg := ms < 0
	if neg {
		ms = -ms
	}
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000

	var buf bytes.Buffer
	if neg {
		buf.WriteByte('-')
	}
	if h > 0 {
		fmt.Fprintf(&buf, "%dh", h)
	}
	if h > 0 || m > 0 {
		fmt.Fprintf(&buf, "%dm", m)
	}
	fmt.Fprintf(&buf, "%ds%03dms", s, ms)
	return buf.String()
}

// sortedPackageNames returns every tracked package name in sorted order so
// repeated dumps of unchanged state produce byte-identical output.
func sortedPackageNames(g *global.GlobalState) []string {
	var names []string
	g.RangePackages(func(pkg string, uid uint32, rec *registry.PackageRecord) bool {
		names = append(names, pkg)
		return true
	})
	sort.Strings(names)
	return names
}

func packageRecord(g *global.GlobalState, pkg string) *registry.PackageRecord {
	var found *registry.PackageRecord
	g.RangePackages(func(p string, uid uint32, rec *registry.PackageRecord) bool {
		if p == pkg {
			found = rec
			return false
		}
		return true
	})
	return found
}

func sortedProcessNames(m map[string]*procrecord.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedServiceNames(m map[string]*servicerecord.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runningDurations folds mode's in-flight interval into a copy of durations,
// for reporting code that needs a point-in-time view without mutating state.
func runningDurations(durations [state.AdjCount]int64, curState int32, startTime int64, now int64) [state.AdjCount]int64 {
	out := durations
	if curState != int32(state.Nothing) {
		out[curState] += now - startTime
	}
	return out
}

// Human writes the grouped-by-package human-readable report: every process
// and service under each selected package, followed by the device
// memory-factor run-time block. pkgFilter empty means every package.
func Human(w io.Writer, g *global.GlobalState, now int64, pkgFilter string) {
	var buf bytes.Buffer

	start, end := g.TimePeriod()
	fmt.Fprintf(&buf, "Statistics from %d to %d (elapsed %s):\n", start, end, FormatDuration(end-start))

	for _, pkg := range sortedPackageNames(g) {
		if pkgFilter != "" && pkg != pkgFilter {
			continue
		}
		rec := packageRecord(g, pkg)
		fmt.Fprintf(&buf, "* %s / uid %d:\n", pkg, rec.UID)

		for _, name := range sortedProcessNames(rec.Processes) {
			proc := rec.Processes[name]
			fmt.Fprintf(&buf, "    Process %s:\n", name)
			for bucket := 0; bucket < state.StateCount*state.AdjCount; bucket++ {
				d := g.ProcessDuration(proc, bucket, now)
				if d == 0 {
					continue
				}
				procState := bucket % state.StateCount
				mf := bucket / state.StateCount
				fmt.Fprintf(&buf, "      %s (mem=%s screen=%s): %s\n",
					stateNames[procState], MemNamesCSV[mf%4], ScreenNamesCSV[mf/4], FormatDuration(d))
			}
			if proc.ExcessiveWakeCount > 0 || proc.ExcessiveCPUCount > 0 {
				fmt.Fprintf(&buf, "      excessive wakes=%d cpu=%d\n", proc.ExcessiveWakeCount, proc.ExcessiveCPUCount)
			}
		}

		for _, name := range sortedServiceNames(rec.Services) {
			svc := rec.Services[name]
			fmt.Fprintf(&buf, "    Service %s:\n", name)
			dumpServiceModeHuman(&buf, "started", svc.Started.Durations, svc.Started.CurState, svc.Started.StartTime, svc.Started.OpCount, now)
			dumpServiceModeHuman(&buf, "bound", svc.Bound.Durations, svc.Bound.CurState, svc.Bound.StartTime, svc.Bound.OpCount, now)
			dumpServiceModeHuman(&buf, "executing", svc.Executing.Durations, svc.Executing.CurState, svc.Executing.StartTime, svc.Executing.OpCount, now)
		}
	}

	buf.WriteString("Device memory-factor run time:\n")
	for i, d := range g.MemFactorDurations() {
		if d == 0 {
			continue
		}
		fmt.Fprintf(&buf, "  mem=%s screen=%s: %s\n", MemNamesCSV[i%4], ScreenNamesCSV[i/4], FormatDuration(d))
	}

	w.Write(buf.Bytes())
}

func dumpServiceModeHuman(buf *bytes.Buffer, label string, durations [state.AdjCount]int64, curState int32, startTime int64, opCount int32, now int64) {
	live := runningDurations(durations, curState, startTime, now)
	any := false
	for _, d := range live {
		if d != 0 {
			any = true
			break
		}
	}
	if !any && opCount == 0 {
		return
	}
	fmt.Fprintf(buf, "      %s (count=%d):\n", label, opCount)
	for i, d := range live {
		if d == 0 {
			continue
		}
		fmt.Fprintf(buf, "        mem=%s screen=%s: %s\n", MemNamesCSV[i%4], ScreenNamesCSV[i/4], FormatDuration(d))
	}
}

// Checkin writes the line-oriented checkin report: one record per
// package/process/service/kind, each followed by tagged key:value pairs.
// Kinds: vers, pkgproc, pkgkills, pkgsvc-start/bound/exec.
func Checkin(w io.Writer, g *global.GlobalState, now int64, pkgFilter string) {
	var buf bytes.Buffer
	buf.WriteString("vers,1\n")

	for _, pkg := range sortedPackageNames(g) {
		if pkgFilter != "" && pkg != pkgFilter {
			continue
		}
		rec := packageRecord(g, pkg)

		for _, name := range sortedProcessNames(rec.Processes) {
			proc := rec.Processes[name]
			fmt.Fprintf(&buf, "pkgproc,%s,%d,%s", pkg, rec.UID, name)
			writeCheckinBuckets(&buf, func(bucket int) int64 { return g.ProcessDuration(proc, bucket, now) })
			buf.WriteByte('\n')

			if proc.ExcessiveWakeCount > 0 || proc.ExcessiveCPUCount > 0 {
				fmt.Fprintf(&buf, "pkgkills,%s,%d,%s,wake:%d,cpu:%d\n",
					pkg, rec.UID, name, proc.ExcessiveWakeCount, proc.ExcessiveCPUCount)
			}
		}

		for _, name := range sortedServiceNames(rec.Services) {
			svc := rec.Services[name]
			writeCheckinServiceMode(&buf, "pkgsvc-start", pkg, rec.UID, name, svc.Started.Durations, svc.Started.CurState, svc.Started.StartTime, svc.Started.OpCount, now)
			writeCheckinServiceMode(&buf, "pkgsvc-bound", pkg, rec.UID, name, svc.Bound.Durations, svc.Bound.CurState, svc.Bound.StartTime, svc.Bound.OpCount, now)
			writeCheckinServiceMode(&buf, "pkgsvc-exec", pkg, rec.UID, name, svc.Executing.Durations, svc.Executing.CurState, svc.Executing.StartTime, svc.Executing.OpCount, now)
		}
	}

	w.Write(buf.Bytes())
}

// writeCheckinBuckets appends one tagged key:value pair per nonzero process
// bucket, tag = screenTag + memTag + stateTag.
func writeCheckinBuckets(buf *bytes.Buffer, get func(bucket int) int64) {
	for bucket := 0; bucket < state.StateCount*state.AdjCount; bucket++ {
		d := get(bucket)
		if d == 0 {
			continue
		}
		procState := bucket % state.StateCount
		mf := bucket / state.StateCount
		fmt.Fprintf(buf, ",%s%s%s:%d", screenTags[mf/4], memTags[mf%4], stateTags[procState], d)
	}
}

func writeCheckinServiceMode(buf *bytes.Buffer, kind, pkg string, uid uint32, name string, durations [state.AdjCount]int64, curState int32, startTime int64, opCount int32, now int64) {
	live := runningDurations(durations, curState, startTime, now)
	fmt.Fprintf(buf, "%s,%s,%d,%s,count:%d", kind, pkg, uid, name, opCount)
	for i, d := range live {
		if d == 0 {
			continue
		}
		fmt.Fprintf(buf, ",%s%s:%d", screenTags[i/4], memTags[i%4], d)
	}
	buf.WriteByte('\n')
}

// DimSpec selects the values a CSV axis ranges over; Summed collapses every
// selected value into a single column instead of emitting one per value,
// matching the spec's comma-break-out vs plus-sum-over list syntax.
type DimSpec struct {
	Values []int
	Summed bool
}

// ParseDimSpec parses a comma- or plus-separated list of names against
// names, returning their indices. Mixing ',' and '+' in one list is an error.
func ParseDimSpec(spec string, names []string) (DimSpec, error) {
	hasComma := strings.Contains(spec, ",")
	hasPlus := strings.Contains(spec, "+")
	if hasComma && hasPlus {
		return DimSpec{}, fmt.Errorf("dump: cannot mix ',' and '+' in dimension list %q", spec)
	}

	sep := ","
	summed := false
	if hasPlus {
		sep = "+"
		summed = true
	}

	var values []int
	for _, tok := range strings.Split(spec, sep) {
		if tok == "" {
			continue
		}
		idx := indexOf(names, tok)
		if idx < 0 {
			return DimSpec{}, fmt.Errorf("dump: unknown state name %q", tok)
		}
		values = append(values, idx)
	}
	if len(values) == 0 {
		return DimSpec{}, fmt.Errorf("dump: empty dimension list")
	}
	return DimSpec{Values: values, Summed: summed}, nil
}

func indexOf(names []string, s string) int {
	for i, n := range names {
		if n == s {
			return i
		}
	}
	return -1
}

// groups expands a DimSpec into the list of column groups for that axis:
// each group is the set of raw indices to sum together into one column.
func (d DimSpec) groups() [][]int {
	if d.Summed {
		return [][]int{d.Values}
	}
	groups := make([][]int, len(d.Values))
	for i, v := range d.Values {
		groups[i] = []int{v}
	}
	return groups
}

// DefaultScreenDim, DefaultMemDim and DefaultProcDim mirror the original
// tracker's CLI defaults when --csv is given with no dimension flags.
func DefaultScreenDim() DimSpec { return DimSpec{Values: []int{0, 1}} }
func DefaultMemDim() DimSpec    { return DimSpec{Values: []int{state.MemFactorCritical}} }
func DefaultProcDim() DimSpec {
	return DimSpec{Values: []int{int(state.Top), int(state.Foreground)}}
}

// CSV writes the tab-separated report: one row per (package, process),
// columns the cross product of screen x mem x proc-state groups.
func CSV(w io.Writer, g *global.GlobalState, now int64, screen, mem, proc DimSpec, pkgFilter string) {
	var buf bytes.Buffer

	screenGroups := screen.groups()
	memGroups := mem.groups()
	procGroups := proc.groups()

	buf.WriteString("pkg\tuid\tprocess")
	for _, sg := range screenGroups {
		for _, mg := range memGroups {
			for _, pg := range procGroups {
				fmt.Fprintf(&buf, "\t%s", columnHeader(sg, mg, pg))
			}
		}
	}
	buf.WriteByte('\n')

	for _, pkg := range sortedPackageNames(g) {
		if pkgFilter != "" && pkg != pkgFilter {
			continue
		}
		rec := packageRecord(g, pkg)
		for _, name := range sortedProcessNames(rec.Processes) {
			procRec := rec.Processes[name]
			fmt.Fprintf(&buf, "%s\t%d\t%s", pkg, rec.UID, name)
			for _, sg := range screenGroups {
				for _, mg := range memGroups {
					for _, pg := range procGroups {
						var total int64
						for _, s := range sg {
							for _, m := range mg {
								mf := state.CompositeMemFactor(m, s == 1)
								for _, ps := range pg {
									bucket := state.CompositeBucket(ps, mf)
									total += g.ProcessDuration(procRec, bucket, now)
								}
							}
						}
						fmt.Fprintf(&buf, "\t%d", total)
					}
				}
			}
			buf.WriteByte('\n')
		}
	}

	w.Write(buf.Bytes())
}

func columnHeader(screenGroup, memGroup, procGroup []int) string {
	var buf bytes.Buffer
	for i, s := range screenGroup {
		if i > 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(ScreenNamesCSV[s])
	}
	buf.WriteByte('-')
	for i, m := range memGroup {
		if i > 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(MemNamesCSV[m])
	}
	buf.WriteByte('-')
	for i, p := range procGroup {
		if i > 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(StateNamesCSV[p])
	}
	return buf.String()
}
