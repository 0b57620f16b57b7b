// Package persist implements the atomic-file Persistor: a single pending-write
// slot guarded by a pending-write lock, a serializer lock that can outlive it,
// and one dedicated background goroutine draining a buffered channel of size
// one (no generic thread-pool).
//
// Atomic replacement is grounded on GriffinCanCode-ArtificialOS's archive
// replace pattern (write to a temp path in the same directory, then
// os.Rename over the destination); the pending-buffer/serializer-lock pairing
// is grounded on the teacher's mailbox-style background worker shape, adapted
// from a generic thread-pool post to a single dedicated consumer goroutine.
package persist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"procstats/internal/codec"
	"procstats/internal/logger"
)

const fileName = "current.bin"

// Persistor owns the on-disk replica of a snapshot. WriteState may be called
// from a caller holding GlobalState's outer lock: it encodes synchronously
// (so the snapshot reflects exactly the state at call time) and, for async
// writes, only enqueues the already-encoded buffer for the background
// goroutine to commit.
type Persistor struct {
	path string

	pendingMu sync.Mutex
	pending   []byte

	serializerMu sync.Mutex

	writeCh  chan struct{}
	shutdown atomic.Bool
	wg       sync.WaitGroup

	lastWriteTime     atomic.Int64 // caller-supplied "now" at the moment WriteState was called
	lastWriteDuration atomic.Int64 // nanoseconds spent in the most recent commit's I/O
	writeFailures     atomic.Int64

	log *logger.SampledLogger
}

// New creates a Persistor writing to <baseDir>/current.bin and starts its
// background commit goroutine.
func New(baseDir string) (*Persistor, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("persist: create base dir: %w", err)
	}
	p := &Persistor{
		path:    filepath.Join(baseDir, fileName),
		writeCh: make(chan struct{}, 1),
		log:     logger.NewSampledLoggerCtx("persist"),
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *Persistor) run() {
	defer p.wg.Done()
	for range p.writeCh {
		p.commit()
	}
}

// WriteState encodes snap and either commits it immediately (sync) or hands
// it to the background goroutine (async). now is the caller's timestamp,
// stamped as the write's last-write-time regardless of whether the commit
// itself has completed yet, matching the write_state contract.
func (p *Persistor) WriteState(snap codec.Snapshot, now int64, sync bool) error {
	if p.shutdown.Load() {
		return nil
	}

	var buf bytes.Buffer
	if err := codec.Encode(&buf, snap); err != nil {
		p.log.Errorf("encode", "snapshot encode failed: %v", err)
		return fmt.Errorf("persist: encode snapshot: %w", err)
	}

	p.pendingMu.Lock()
	p.pending = buf.Bytes()
	p.lastWriteTime.Store(now)
	p.pendingMu.Unlock()

	if sync {
		return p.commit()
	}

	select {
	case p.writeCh <- struct{}{}:
	default:
		// a commit is already queued; it will pick up the buffer we just replaced
	}
	return nil
}

// commit takes and clears the pending buffer, then performs the atomic file
// replace under the serializer lock. A nil pending buffer (nothing queued,
// or a concurrent commit already drained it) is a no-op.
func (p *Persistor) commit() error {
	p.pendingMu.Lock()
	buf := p.pending
	p.pending = nil
	p.serializerMu.Lock()
	p.pendingMu.Unlock()
	defer p.serializerMu.Unlock()

	if buf == nil {
		return nil
	}

	start := time.Now()
	err := atomicWrite(p.path, buf)
	p.lastWriteDuration.Store(int64(time.Since(start)))
	if err != nil {
		p.writeFailures.Add(1)
		p.log.Errorf("commit", "atomic write to %s failed: %v", p.path, err)
		return fmt.Errorf("persist: commit: %w", err)
	}
	return nil
}

// Load reads and decodes the on-disk snapshot. ok is false on any missing
// file or structural decode failure; the caller must then treat in-memory
// state as a fresh reset.
func (p *Persistor) Load() (codec.Snapshot, bool) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warnf("load", "read %s failed: %v", p.path, err)
		}
		return codec.Snapshot{}, false
	}
	return codec.Decode(bytes.NewReader(data))
}

// ShouldWriteNow reports whether now is more than the write interval past
// the last stamped write time.
func (p *Persistor) ShouldWriteNow(now int64, interval int64) bool {
	return now > p.lastWriteTime.Load()+interval
}

// LastWriteTime returns the caller-supplied timestamp of the most recent
// WriteState call, for diagnostics.
func (p *Persistor) LastWriteTime() int64 { return p.lastWriteTime.Load() }

// LastWriteDuration returns the wall-clock duration of the most recent
// commit's I/O, for diagnostics.
func (p *Persistor) LastWriteDuration() time.Duration {
	return time.Duration(p.lastWriteDuration.Load())
}

// WriteFailures returns the cumulative count of failed commits, for diagnostics.
func (p *Persistor) WriteFailures() int64 { return p.writeFailures.Load() }

// Shutdown stops the background goroutine after draining any pending commit
// and marks the Persistor so further WriteState calls become no-ops.
func (p *Persistor) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	p.commit()
	close(p.writeCh)
	p.wg.Wait()
}

// atomicWrite replaces path's contents by writing to a temp file in the same
// directory, fsyncing, then renaming over the destination.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
