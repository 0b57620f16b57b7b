// Package registry implements PackageRegistry: the index of process and
// package records by (name, uid), and the mediator of the "common vs
// per-package" ownership transition.
//
// Grounded on the teacher's two-level ConcurrentMap registries (internal/maps),
// reused here keyed by uid at the leaf level since the teacher's generic map
// only accepts integer keys; the ownership/upgrade algorithm itself is pinned
// to ProcessTracker.PackageState/getProcessStateLocked/pullFixedProc.
package registry

import (
	"fmt"

	"procstats/internal/maps"
	"procstats/internal/pool"
	"procstats/internal/procrecord"
	"procstats/internal/servicerecord"
)

// PackageRecord groups the per-package process and service records owned by
// one (package name, uid) pair.
type PackageRecord struct {
	UID       uint32
	Processes map[string]*procrecord.Record
	Services  map[string]*servicerecord.Record
}

func newPackageRecord(uid uint32) *PackageRecord {
	return &PackageRecord{
		UID:       uid,
		Processes: make(map[string]*procrecord.Record),
		Services:  make(map[string]*servicerecord.Record),
	}
}

// Registry holds the two name-then-uid indexed maps GlobalState delegates to.
type Registry struct {
	// processes is the canonical/common process registry: process name -> uid -> common record.
	processes map[string]maps.ConcurrentMap[uint32, *procrecord.Record]
	// packages is the per-package registry: package name -> uid -> package record.
	packages map[string]maps.ConcurrentMap[uint32, *PackageRecord]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		processes: make(map[string]maps.ConcurrentMap[uint32, *procrecord.Record]),
		packages:  make(map[string]maps.ConcurrentMap[uint32, *PackageRecord]),
	}
}

// Reset drops every tracked record, matching GlobalState.reset().
func (reg *Registry) Reset() {
	reg.processes = make(map[string]maps.ConcurrentMap[uint32, *procrecord.Record])
	reg.packages = make(map[string]maps.ConcurrentMap[uint32, *PackageRecord])
}

func (reg *Registry) processBucket(name string) maps.ConcurrentMap[uint32, *procrecord.Record] {
	m, ok := reg.processes[name]
	if !ok {
		m = maps.NewConcurrentMap[uint32, *procrecord.Record]()
		reg.processes[name] = m
	}
	return m
}

func (reg *Registry) packageBucket(pkg string) maps.ConcurrentMap[uint32, *PackageRecord] {
	m, ok := reg.packages[pkg]
	if !ok {
		m = maps.NewConcurrentMap[uint32, *PackageRecord]()
		reg.packages[pkg] = m
	}
	return m
}

// packageRecord returns (creating if absent) the PackageRecord for (pkg, uid).
func (reg *Registry) packageRecord(pkg string, uid uint32) *PackageRecord {
	bucket := reg.packageBucket(pkg)
	return bucket.LoadOrStore(uid, func() *PackageRecord { return newPackageRecord(uid) })
}

// RestoreCommon inserts rec directly into the common process registry under
// (name, uid), bypassing the ownership-upgrade logic. Used only by the
// codec's read path, which reconstructs records in a single pass.
func (reg *Registry) RestoreCommon(name string, uid uint32, rec *procrecord.Record) {
	reg.processBucket(name).Store(uid, rec)
}

// RestorePackage returns (creating if absent) the PackageRecord for (pkg,
// uid), for the codec's read path to populate directly.
func (reg *Registry) RestorePackage(pkg string, uid uint32) *PackageRecord {
	return reg.packageRecord(pkg, uid)
}

// GetProcess resolves the per-package process handle for (pkg, uid, name),
// creating the common record and/or clone as needed per the ownership
// upgrade rule:
//
//  1. Ensure a PackageRecord for (pkg, uid); if it already has an entry for
//     name, return it.
//  2. Look up name in the common registry under uid; create a fresh common
//     record if absent.
//  3. If the common record is not multi-package:
//     - if pkg == common.Package, alias it directly into the caller's package map;
//     - otherwise upgrade: flip multi_package, clone the common record back
//     into the package that originally owned it, and clone a fresh record
//     for the caller.
//  4. If already multi-package, clone a fresh record for the caller.
func (reg *Registry) GetProcess(pkg string, uid uint32, name string, now int64, p *pool.LongPool) *procrecord.Record {
	pkgRec := reg.packageRecord(pkg, uid)
	if existing, ok := pkgRec.Processes[name]; ok {
		return existing
	}

	procBucket := reg.processBucket(name)
	common := procBucket.LoadOrStore(uid, func() *procrecord.Record {
		return procrecord.NewCommon(pkg, uid, name)
	})

	var handle *procrecord.Record
	switch {
	case !common.MultiPackage && common.Package == pkg:
		handle = common

	case !common.MultiPackage:
		common.MultiPackage = true

		originalPkgRec := reg.packageRecord(common.Package, uid)
		originalPkgRec.Processes[name] = common.Clone(p, common.Package, now)

		handle = common.Clone(p, pkg, now)

	default:
		handle = common.Clone(p, pkg, now)
	}

	pkgRec.Processes[name] = handle
	return handle
}

// PullFixed resolves pkgList[i] to its current per-package record, upgrading
// a stale common-record reference left over from before a multi-package
// transition. It is a hard programming error if no per-package record
// exists for (pkgName, uid, procName) after an upgrade — the clone should
// already have been created by GetProcess.
func (reg *Registry) PullFixed(pkgList []PkgEntry, i int) *procrecord.Record {
	entry := &pkgList[i]
	if !entry.Proc.MultiPackage {
		return entry.Proc
	}

	pkgRec := reg.packageRecord(entry.Pkg, entry.Proc.UID)
	fixed, ok := pkgRec.Processes[entry.Proc.Name]
	if !ok {
		panic(fmt.Sprintf("registry: missing per-package process %q for package %q uid %d", entry.Proc.Name, entry.Pkg, entry.Proc.UID))
	}
	entry.Proc = fixed
	return fixed
}

// PkgEntry is one caller-maintained (package name, process handle) pair fed
// to SetState/ReportExcessiveWake/ReportExcessiveCPU's pkg_list fan-out.
type PkgEntry struct {
	Pkg  string
	Proc *procrecord.Record
}

// Process looks up the common process record for (name, uid) without
// creating it, used by read-only paths like dumping and AggregateUID.
func (reg *Registry) Process(name string, uid uint32) (*procrecord.Record, bool) {
	bucket, ok := reg.processes[name]
	if !ok {
		return nil, false
	}
	return bucket.Load(uid)
}

// RangeProcesses walks every common process record, for dump/serialize.
func (reg *Registry) RangeProcesses(f func(name string, uid uint32, rec *procrecord.Record) bool) {
	for name, bucket := range reg.processes {
		cont := true
		bucket.Range(func(uid uint32, rec *procrecord.Record) bool {
			if !f(name, uid, rec) {
				cont = false
				return false
			}
			return true
		})
		if !cont {
			return
		}
	}
}

// RangePackages walks every package record, for dump/serialize.
func (reg *Registry) RangePackages(f func(pkg string, uid uint32, rec *PackageRecord) bool) {
	for pkg, bucket := range reg.packages {
		cont := true
		bucket.Range(func(uid uint32, rec *PackageRecord) bool {
			if !f(pkg, uid, rec) {
				cont = false
				return false
			}
			return true
		})
		if !cont {
			return
		}
	}
}

// Service resolves (or creates) the service record for (pkg, uid, name).
func (reg *Registry) Service(pkg string, uid uint32, name string) *servicerecord.Record {
	pkgRec := reg.packageRecord(pkg, uid)
	if svc, ok := pkgRec.Services[name]; ok {
		return svc
	}
	svc := servicerecord.New()
	pkgRec.Services[name] = svc
	return svc
}
