// Package codec implements the versioned binary serialization format for a
// full statistics snapshot: a magic/version/constant-check preamble, the
// packed LongPool arrays, and the process/package registries, followed by a
// CRC32 trailer.
//
// Grounded on yairfalse-tapio's pkg/integrations/otel/encoding BinaryWriter/
// BinaryReader pair (encoding/binary little-endian scratch-buffer writes,
// length-prefixed string helpers, a trailing checksum); the preamble and
// registry layout themselves are pinned to ProcessTracker.java's
// writeToParcel/readFromParcel.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"procstats/internal/pool"
	"procstats/internal/procrecord"
	"procstats/internal/registry"
	"procstats/internal/servicerecord"
	"procstats/internal/sparsetable"
	"procstats/internal/state"
)

const (
	magic   int32 = 0x50535453
	version int32 = 1
)

// Snapshot is the plain data a GlobalState hands to the codec: everything
// needed to write, or everything produced by a read. It deliberately has no
// dependency on the global package to avoid an import cycle.
type Snapshot struct {
	Pool               *pool.LongPool
	Registry           *registry.Registry
	MemFactorDurations [state.AdjCount]int64
	TimePeriodStart    int64
	TimePeriodEnd      int64
}

// writer wraps a bufio.Writer with fixed-width little-endian helpers, in the
// scratch-buffer style of BinaryWriter.
type writer struct {
	w   *bufio.Writer
	err error
}

// crc32Writer tees every write into a running CRC32 so the trailer can be
// appended without a second pass over the buffer.
type crc32Writer struct {
	out io.Writer
	crc uint32
}

func newCRC32Writer(out io.Writer) *crc32Writer {
	return &crc32Writer{out: out}
}

func (c *crc32Writer) Write(p []byte) (int, error) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
	return c.out.Write(p)
}

func newWriter(out io.Writer) *writer {
	return &writer{w: bufio.NewWriter(out)}
}

func (w *writer) i32(v int32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *writer) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *writer) i64(v int64) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *writer) str(s string) {
	if w.err != nil {
		return
	}
	w.i32(int32(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write([]byte(s))
}

func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Encode serializes snap into w per the layout documented on the package,
// followed by a CRC32 trailer covering everything written before it.
// The caller must have already committed every process/service's running
// interval (GlobalState.Snapshot does this).
func Encode(out io.Writer, snap Snapshot) error {
	tee := newCRC32Writer(out)
	w := newWriter(tee)

	w.i32(magic)
	w.i32(version)
	w.i32(state.StateCount)
	w.i32(state.AdjCount)
	w.i32(state.PssCount)
	w.i32(pool.LongsSize)
	w.i64(snap.TimePeriodStart)
	w.i64(snap.TimePeriodEnd)

	nArrays := snap.Pool.ArrayCount()
	nextInLast := snap.Pool.UsedInTail()
	w.i32(int32(nArrays))
	w.i32(int32(nextInLast))
	for i := 0; i < nArrays; i++ {
		arr := snap.Pool.ArrayAt(i)
		n := len(arr)
		if i == nArrays-1 {
			n = nextInLast
		}
		for j := 0; j < n; j++ {
			w.i64(arr[j])
		}
	}

	for _, d := range snap.MemFactorDurations {
		w.i64(d)
	}

	writeProcessRegistry(w, snap.Registry)
	writePackageRegistry(w, snap.Registry)

	if err := w.flush(); err != nil {
		return fmt.Errorf("codec: encode: %w", err)
	}

	return binary.Write(out, binary.LittleEndian, tee.crc)
}

func writeProcessBody(w *writer, r *procrecord.Record) {
	mp := int32(0)
	if r.MultiPackage {
		mp = 1
	}
	w.i32(mp)

	offs := r.Durations.Offsets()
	w.i32(int32(len(offs)))
	for _, o := range offs {
		w.u32(uint32(o))
	}

	pssOffs := r.PSS.Offsets()
	w.i32(int32(len(pssOffs)))
	for _, o := range pssOffs {
		w.u32(uint32(o))
	}

	w.i32(r.ExcessiveWakeCount)
	w.i32(r.ExcessiveCPUCount)
}

func writeProcessRegistry(w *writer, reg *registry.Registry) {
	type nameGroup struct {
		name    string
		entries []struct {
			uid uint32
			rec *procrecord.Record
		}
	}
	groups := map[string]*nameGroup{}
	var order []string
	reg.RangeProcesses(func(name string, uid uint32, rec *procrecord.Record) bool {
		g, ok := groups[name]
		if !ok {
			g = &nameGroup{name: name}
			groups[name] = g
			order = append(order, name)
		}
		g.entries = append(g.entries, struct {
			uid uint32
			rec *procrecord.Record
		}{uid, rec})
		return true
	})

	w.i32(int32(len(order)))
	for _, name := range order {
		g := groups[name]
		w.str(name)
		w.i32(int32(len(g.entries)))
		for _, e := range g.entries {
			w.i32(int32(e.uid))
			w.str(e.rec.Package)
			writeProcessBody(w, e.rec)
		}
	}
}

func writePackageRegistry(w *writer, reg *registry.Registry) {
	type pkgGroup struct {
		name    string
		entries []struct {
			uid uint32
			rec *registry.PackageRecord
		}
	}
	groups := map[string]*pkgGroup{}
	var order []string
	reg.RangePackages(func(pkg string, uid uint32, rec *registry.PackageRecord) bool {
		g, ok := groups[pkg]
		if !ok {
			g = &pkgGroup{name: pkg}
			groups[pkg] = g
			order = append(order, pkg)
		}
		g.entries = append(g.entries, struct {
			uid uint32
			rec *registry.PackageRecord
		}{uid, rec})
		return true
	})

	w.i32(int32(len(order)))
	for _, name := range order {
		g := groups[name]
		w.str(name)
		w.i32(int32(len(g.entries)))
		for _, e := range g.entries {
			w.i32(int32(e.uid))

			w.i32(int32(len(e.rec.Processes)))
			for procName, proc := range e.rec.Processes {
				w.str(procName)
				if proc.Common == proc {
					w.i32(0)
				} else {
					w.i32(1)
					writeProcessBody(w, proc)
				}
			}

			w.i32(int32(len(e.rec.Services)))
			for svcName, svc := range e.rec.Services {
				w.str(svcName)
				writeServiceBody(w, svc)
			}
		}
	}
}

func writeServiceBody(w *writer, svc *servicerecord.Record) {
	writeServiceMode(w, svc.Started.Durations, svc.Started.OpCount)
	writeServiceMode(w, svc.Bound.Durations, svc.Bound.OpCount)
	writeServiceMode(w, svc.Executing.Durations, svc.Executing.OpCount)
}

func writeServiceMode(w *writer, durations [state.AdjCount]int64, opCount int32) {
	for _, d := range durations {
		w.i64(d)
	}
	w.i32(opCount)
}

// reader wraps a byte slice with fixed-width little-endian helpers and a
// sticky error, mirroring writer. Every read is bounds-checked explicitly
// rather than relying on a panic/recover, so malformed counts fail the same
// way regardless of which field triggers them.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("codec: truncated input at offset %d (need %d more bytes)", r.pos, n)
		return false
	}
	return true
}

func (r *reader) i32() int32 {
	if !r.need(4) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) i64() int64 {
	if !r.need(8) {
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v
}

func (r *reader) str() string {
	n := r.i32()
	if r.err != nil {
		return ""
	}
	if n < 0 || n > int32(len(r.buf)) {
		r.err = fmt.Errorf("codec: bad string length %d", n)
		return ""
	}
	if !r.need(int(n)) {
		return ""
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

// readOffsets reads a count-prefixed slice of packed offsets, validating
// each one against p (including that all width contiguous longs it
// addresses fit within the backing array) and checking ascending order
// (the sorted invariant).
func readOffsets(r *reader, p *pool.LongPool, what string, width int) []pool.Offset {
	n := r.i32()
	if r.err != nil {
		return nil
	}
	if n < 0 || n > 1<<20 {
		r.err = fmt.Errorf("codec: implausible %s table size %d", what, n)
		return nil
	}
	offs := make([]pool.Offset, n)
	prevTag := -1
	for i := range offs {
		off := pool.Offset(r.u32())
		if r.err != nil {
			return nil
		}
		if !p.Validate(off, width) {
			r.err = fmt.Errorf("codec: invalid %s offset %#x", what, off)
			return nil
		}
		if int(off.TypeTag()) <= prevTag {
			r.err = fmt.Errorf("codec: %s table not strictly ascending at index %d", what, i)
			return nil
		}
		prevTag = int(off.TypeTag())
		offs[i] = off
	}
	return offs
}

// readProcessBody parses a <process-body> into a freshly allocated record
// whose identity fields (Package/UID/Name/Common) the caller fills in.
func readProcessBody(r *reader, p *pool.LongPool) *procrecord.Record {
	rec := &procrecord.Record{CurState: int32(state.Nothing), LastPSSState: int32(state.Nothing)}
	rec.MultiPackage = r.i32() != 0
	durOffs := readOffsets(r, p, "durations", 1)
	if r.err != nil {
		return nil
	}
	pssOffs := readOffsets(r, p, "pss", state.PssCount)
	if r.err != nil {
		return nil
	}
	rec.Durations = sparsetable.Restore(durOffs)
	rec.PSS = sparsetable.Restore(pssOffs)
	rec.ExcessiveWakeCount = r.i32()
	rec.ExcessiveCPUCount = r.i32()
	return rec
}

func readServiceBody(r *reader) *servicerecord.Record {
	svc := servicerecord.New()
	readServiceMode(r, &svc.Started.Durations, &svc.Started.OpCount)
	readServiceMode(r, &svc.Bound.Durations, &svc.Bound.OpCount)
	readServiceMode(r, &svc.Executing.Durations, &svc.Executing.OpCount)
	return svc
}

func readServiceMode(r *reader, durations *[state.AdjCount]int64, opCount *int32) {
	for i := range durations {
		durations[i] = r.i64()
	}
	*opCount = r.i32()
}

// Decode parses a snapshot previously written by Encode. On any structural
// mismatch (wrong preamble, implausible counts, invalid packed offsets,
// corrupted trailer, or a missing common process for a per-package alias) it
// returns ok=false; the caller must then treat in-memory state as a fresh
// reset(), per the defensive-read contract.
func Decode(r io.Reader) (snap Snapshot, ok bool) {
	raw, err := io.ReadAll(r)
	if err != nil || len(raw) < 4 {
		return Snapshot{}, false
	}

	body, trailer := raw[:len(raw)-4], raw[len(raw)-4:]
	wantCRC := binary.LittleEndian.Uint32(trailer)
	if crc32.ChecksumIEEE(body) != wantCRC {
		return Snapshot{}, false
	}

	rd := &reader{buf: body}

	if rd.i32() != magic || rd.i32() != version ||
		rd.i32() != state.StateCount || rd.i32() != state.AdjCount ||
		rd.i32() != state.PssCount || rd.i32() != pool.LongsSize {
		return Snapshot{}, false
	}

	snap.TimePeriodStart = rd.i64()
	snap.TimePeriodEnd = rd.i64()

	nArrays := int(rd.i32())
	nextInLast := int(rd.i32())
	if rd.err != nil || nArrays < 1 || nextInLast < 0 || nextInLast > pool.LongsSize {
		return Snapshot{}, false
	}

	arrays := make([][]int64, nArrays)
	for i := 0; i < nArrays; i++ {
		count := pool.LongsSize
		if i == nArrays-1 {
			count = nextInLast
		}
		arr := make([]int64, pool.LongsSize)
		for j := 0; j < count; j++ {
			arr[j] = rd.i64()
		}
		arrays[i] = arr
	}
	if rd.err != nil {
		return Snapshot{}, false
	}

	for i := range snap.MemFactorDurations {
		snap.MemFactorDurations[i] = rd.i64()
	}
	if rd.err != nil {
		return Snapshot{}, false
	}

	p := pool.Restore(arrays, nextInLast)
	reg := readRegistries(rd, p)
	if rd.err != nil {
		return Snapshot{}, false
	}

	snap.Pool = p
	snap.Registry = reg
	return snap, true
}

func readRegistries(r *reader, p *pool.LongPool) *registry.Registry {
	reg := registry.New()

	nProcNames := r.i32()
	if r.err != nil {
		return nil
	}
	for i := int32(0); i < nProcNames; i++ {
		name := r.str()
		nUids := r.i32()
		if r.err != nil {
			return nil
		}
		for j := int32(0); j < nUids; j++ {
			uid := uint32(r.i32())
			pkg := r.str()
			body := readProcessBody(r, p)
			if r.err != nil {
				return nil
			}
			body.Package = pkg
			body.UID = uid
			body.Name = name
			body.Common = body
			reg.RestoreCommon(name, uid, body)
		}
	}
	if r.err != nil {
		return nil
	}

	nPkgNames := r.i32()
	if r.err != nil {
		return nil
	}
	for i := int32(0); i < nPkgNames; i++ {
		pkg := r.str()
		nUids := r.i32()
		if r.err != nil {
			return nil
		}
		for j := int32(0); j < nUids; j++ {
			uid := uint32(r.i32())
			pkgRec := reg.RestorePackage(pkg, uid)

			nProcs := r.i32()
			if r.err != nil {
				return nil
			}
			for k := int32(0); k < nProcs; k++ {
				procName := r.str()
				hasOwnBody := r.i32()
				if r.err != nil {
					return nil
				}
				if hasOwnBody == 0 {
					common, ok := reg.Process(procName, uid)
					if !ok {
						r.err = fmt.Errorf("codec: missing common process %q for alias in package %q", procName, pkg)
						return nil
					}
					pkgRec.Processes[procName] = common
					continue
				}
				owned := readProcessBody(r, p)
				if r.err != nil {
					return nil
				}
				common, ok := reg.Process(procName, uid)
				if !ok {
					r.err = fmt.Errorf("codec: missing common process %q for clone in package %q", procName, pkg)
					return nil
				}
				owned.Package = pkg
				owned.UID = uid
				owned.Name = procName
				owned.Common = common
				pkgRec.Processes[procName] = owned
			}

			nSvcs := r.i32()
			if r.err != nil {
				return nil
			}
			for k := int32(0); k < nSvcs; k++ {
				svcName := r.str()
				svc := readServiceBody(r)
				if r.err != nil {
					return nil
				}
				pkgRec.Services[svcName] = svc
			}
		}
	}

	return reg
}
