package archive

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Part describes one container file belonging to a key. Sealed parts are
// immutable; a Part value in an IndexRecord always describes a sealed part.
type Part struct {
	Name      string    `json:"name"`
	Files     []string  `json:"files"`
	FileCount int       `json:"file_count"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	CreatedAt time.Time `json:"created_at"`
}

// IndexRecord is the durable JSON descriptor of everything archived for one
// key. It is the single source of truth for "what has been archived" and is
// mirrored to the remote store next to the parts it describes.
type IndexRecord struct {
	Year           int       `json:"year"`
	StateCode      string    `json:"state_code"`
	DistrictCode   string    `json:"district_code"`
	ComplexCode    string    `json:"complex_code"`
	ArchiveType    Type      `json:"archive_type"`
	FileCount      int       `json:"file_count"`
	TotalSize      int64     `json:"total_size"`
	TotalSizeHuman string    `json:"total_size_human"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Parts          []Part    `json:"parts"`
}

// NewIndexRecord creates an empty record for the key. CreatedAt is set once
// here and never changes afterwards.
func NewIndexRecord(key Key, now time.Time) *IndexRecord {
	return &IndexRecord{
		Year:           key.Year,
		StateCode:      key.StateCode,
		DistrictCode:   key.DistrictCode,
		ComplexCode:    key.ComplexCode,
		ArchiveType:    key.Type,
		TotalSizeHuman: HumanSize(0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Key reconstructs the archive key the record belongs to.
func (r *IndexRecord) Key() Key {
	return Key{
		Year:         r.Year,
		StateCode:    r.StateCode,
		DistrictCode: r.DistrictCode,
		ComplexCode:  r.ComplexCode,
		Type:         r.ArchiveType,
	}
}

// HasFile reports whether name exists in any recorded part.
func (r *IndexRecord) HasFile(name string) bool {
	for i := range r.Parts {
		if slices.Contains(r.Parts[i].Files, name) {
			return true
		}
	}
	return false
}

// PartByName returns the recorded part with the given name, if any.
func (r *IndexRecord) PartByName(name string) (Part, bool) {
	for _, p := range r.Parts {
		if p.Name == name {
			return p, true
		}
	}
	return Part{}, false
}

// ApplyPart merges a sealed part into the record and refreshes UpdatedAt.
// Merging a part name that is already recorded is a no-op apart from the
// UpdatedAt refresh, so crash-retry of an upload never double-counts.
// It reports whether the part was newly added.
func (r *IndexRecord) ApplyPart(part Part, now time.Time) bool {
	r.UpdatedAt = now
	if _, ok := r.PartByName(part.Name); ok {
		return false
	}
	r.Parts = append(r.Parts, part)
	r.recompute()
	return true
}

// recompute derives the aggregate counters from the part list.
func (r *IndexRecord) recompute() {
	var files int
	var size int64
	for i := range r.Parts {
		files += r.Parts[i].FileCount
		size += r.Parts[i].Size
	}
	r.FileCount = files
	r.TotalSize = size
	r.TotalSizeHuman = HumanSize(size)
}

// Validate checks the record's internal invariants. A failure means the
// index no longer agrees with the parts it describes and must be surfaced,
// never silently repaired.
func (r *IndexRecord) Validate() error {
	key := r.Key()
	if err := key.Validate(); err != nil {
		return &IndexCorruptionError{Key: key, Reason: err.Error()}
	}
	seen := make(map[string]struct{}, len(r.Parts))
	var files int
	var size int64
	for i := range r.Parts {
		p := &r.Parts[i]
		if _, dup := seen[p.Name]; dup {
			return &IndexCorruptionError{Key: key, Reason: fmt.Sprintf("part %q listed twice", p.Name)}
		}
		seen[p.Name] = struct{}{}
		if p.FileCount != len(p.Files) {
			return &IndexCorruptionError{
				Key:    key,
				Reason: fmt.Sprintf("part %q file_count %d but %d files listed", p.Name, p.FileCount, len(p.Files)),
			}
		}
		files += p.FileCount
		size += p.Size
	}
	if r.FileCount != files {
		return &IndexCorruptionError{
			Key:    key,
			Reason: fmt.Sprintf("file_count %d but parts sum to %d", r.FileCount, files),
		}
	}
	if r.TotalSize != size {
		return &IndexCorruptionError{
			Key:    key,
			Reason: fmt.Sprintf("total_size %d but parts sum to %d", r.TotalSize, size),
		}
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return &IndexCorruptionError{Key: key, Reason: "updated_at precedes created_at"}
	}
	return nil
}

// Clone returns a deep copy so readers never observe writer mutations.
func (r *IndexRecord) Clone() *IndexRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Parts = make([]Part, len(r.Parts))
	for i, p := range r.Parts {
		out.Parts[i] = p
		out.Parts[i].Files = slices.Clone(p.Files)
	}
	return &out
}

// MergeRecords reconciles a local and a remote copy of the same key's index
// by taking the union of parts by name. When both sides record a part with
// the same name but different contents the remote copy wins (its bytes are
// the durably uploaded ones) and an IndexCorruptionError is returned along
// with the merged record so the mismatch can be reviewed. Aggregates are
// always recomputed from the merged part list.
func MergeRecords(local, remote *IndexRecord, now time.Time) (*IndexRecord, error) {
	switch {
	case local == nil && remote == nil:
		return nil, nil
	case local == nil:
		return remote.Clone(), nil
	case remote == nil:
		return local.Clone(), nil
	}
	if local.Key() != remote.Key() {
		return nil, &IndexCorruptionError{
			Key:    local.Key(),
			Reason: fmt.Sprintf("remote index is for different key %s", remote.Key()),
		}
	}

	merged := remote.Clone()
	var conflict error
	for _, p := range local.Parts {
		rp, ok := merged.PartByName(p.Name)
		if !ok {
			merged.Parts = append(merged.Parts, p)
			continue
		}
		if rp.Size != p.Size || rp.FileCount != p.FileCount || !slices.Equal(rp.Files, p.Files) {
			conflict = &IndexCorruptionError{
				Key:    local.Key(),
				Reason: fmt.Sprintf("part %q differs between local and remote index", p.Name),
			}
		}
	}
	if local.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = local.CreatedAt
	}
	merged.UpdatedAt = now
	merged.recompute()
	return merged, conflict
}

// HumanSize renders a byte count the way the published indexes do:
// two decimals and a 1024 ladder from B through TB.
func HumanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if math.Abs(size) < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f TB", size)
}
