package migrate

import (
	"fmt"
	"sort"
)

// Plan describes the ordered set of migrations needed to reach a target
// version.
type Plan struct {
	Direction Direction
	// Files holds the up migrations to apply, in ascending version order.
	// Empty for down plans.
	Files []*File
	// Records holds the applied ledger entries to roll back, in descending
	// version order. Empty for up plans.
	Records []*Record
}

// Pending computes the set difference between discovered and applied
// migrations: every discovered up migration whose version has no ledger entry,
// in ascending version order. It is a pure function, independent of input
// order.
func Pending(applied []*Record, discovered []*File) []*File {
	appliedSet := make(map[string]struct{}, len(applied))
	for _, rec := range applied {
		appliedSet[rec.Version] = struct{}{}
	}

	var pending []*File
	for _, f := range discovered {
		if f.Direction != DirectionUp {
			continue
		}
		if _, ok := appliedSet[f.Version]; !ok {
			pending = append(pending, f)
		}
	}

	return SortFiles(pending)
}

// SortFiles sorts migration files in place by ascending version, then module,
// and returns the slice. Sorting is idempotent.
func SortFiles(files []*File) []*File {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Version != files[j].Version {
			return files[i].Version < files[j].Version
		}
		return files[i].Module < files[j].Module
	})
	return files
}

// SortRecords sorts ledger entries in place by ascending version and returns
// the slice.
func SortRecords(recs []*Record) []*Record {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Version < recs[j].Version
	})
	return recs
}

// LastApplied returns the most recent successfully applied entry by version,
// or nil if there is none.
func LastApplied(applied []*Record) *Record {
	var last *Record
	for _, rec := range applied {
		if rec.Status != StatusSuccess {
			continue
		}
		if last == nil || rec.Version > last.Version {
			last = rec
		}
	}
	return last
}

// ToVersion computes the migration set needed to move the database to
// targetVersion. If the target is ahead of the latest applied version, the
// plan applies every discovered up migration in (lastApplied, target] in
// ascending order. If it is behind, the plan rolls back every applied
// migration in (target, lastApplied] in descending order. A target equal to
// the current version yields an empty up plan.
func ToVersion(applied []*Record, discovered []*File, targetVersion string) (*Plan, error) {
	if len(targetVersion) != versionLen || !isDigits(targetVersion) {
		return nil, fmt.Errorf("invalid target version '%s'; expected exactly %d digits", targetVersion, versionLen)
	}

	var lastVersion string
	if last := LastApplied(applied); last != nil {
		lastVersion = last.Version
	}

	if targetVersion >= lastVersion {
		plan := &Plan{Direction: DirectionUp}
		for _, f := range discovered {
			if f.Direction != DirectionUp {
				continue
			}
			if f.Version > lastVersion && f.Version <= targetVersion {
				plan.Files = append(plan.Files, f)
			}
		}
		SortFiles(plan.Files)
		return plan, nil
	}

	plan := &Plan{Direction: DirectionDown}
	for _, rec := range applied {
		if rec.Status != StatusSuccess {
			continue
		}
		if rec.Version > targetVersion && rec.Version <= lastVersion {
			plan.Records = append(plan.Records, rec)
		}
	}
	SortRecords(plan.Records)
	// Rollbacks are applied newest first.
	for i, j := 0, len(plan.Records)-1; i < j; i, j = i+1, j-1 {
		plan.Records[i], plan.Records[j] = plan.Records[j], plan.Records[i]
	}

	return plan, nil
}
