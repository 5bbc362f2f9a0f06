package manifest

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// ReplacePair holds the old and new fingerprints of a file whose content
// changed between two manifests.
type ReplacePair struct {
	Old *FileFingerprint `json:"old"`
	New *FileFingerprint `json:"new"`
}

// Plan is the minimal set of file operations turning a current tree into the
// target tree. It is derived, never persisted, and recomputed each cycle.
// The three lists partition disjointly by path and are sorted by path.
type Plan struct {
	ToAdd     []*FileFingerprint `json:"to_add"`
	ToReplace []ReplacePair      `json:"to_replace"`
	ToRemove  []*FileFingerprint `json:"to_remove"`
}

// IsEmpty reports whether the plan requires no work.
func (p *Plan) IsEmpty() bool {
	return len(p.ToAdd) == 0 && len(p.ToReplace) == 0 && len(p.ToRemove) == 0
}

// TransferCount returns the number of files that need downloading.
func (p *Plan) TransferCount() int {
	return len(p.ToAdd) + len(p.ToReplace)
}

// TransferBytes returns the total bytes that need downloading.
func (p *Plan) TransferBytes() int64 {
	var total int64
	for _, f := range p.ToAdd {
		total += f.Size
	}
	for _, r := range p.ToReplace {
		total += r.New.Size
	}
	return total
}

// Paths returns the set of all paths the plan touches.
func (p *Plan) Paths() mapset.Set[string] {
	paths := mapset.NewThreadUnsafeSet[string]()
	for _, f := range p.ToAdd {
		paths.Add(f.Path)
	}
	for _, r := range p.ToReplace {
		paths.Add(r.New.Path)
	}
	for _, f := range p.ToRemove {
		paths.Add(f.Path)
	}
	return paths
}

// Diff computes the plan that reconciles current into target.
//
// Both manifests keep their files sorted by path (Seal guarantees this), so a
// single merge walk suffices: no nested lookups, O(n) in the total file
// count. Content hash is authoritative; size or mtime drift alone never
// triggers a transfer. If the tree digests already match the walk is skipped
// entirely and an empty plan is returned.
//
// Diff is deterministic: the same two manifests always produce an identical,
// path-sorted plan, which makes retrying a whole sync cycle idempotent.
func Diff(target, current *Manifest) *Plan {
	plan := &Plan{}

	if target.Hash != "" && target.Hash == current.Hash {
		return plan
	}

	t, c := target.Files, current.Files
	i, j := 0, 0
	for i < len(t) && j < len(c) {
		switch {
		case t[i].Path < c[j].Path:
			plan.ToAdd = append(plan.ToAdd, t[i])
			i++
		case t[i].Path > c[j].Path:
			plan.ToRemove = append(plan.ToRemove, c[j])
			j++
		default:
			if t[i].Hash != c[j].Hash {
				plan.ToReplace = append(plan.ToReplace, ReplacePair{Old: c[j], New: t[i]})
			}
			i++
			j++
		}
	}
	for ; i < len(t); i++ {
		plan.ToAdd = append(plan.ToAdd, t[i])
	}
	for ; j < len(c); j++ {
		plan.ToRemove = append(plan.ToRemove, c[j])
	}

	return plan
}
