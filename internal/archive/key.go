// Package archive implements the court-records archive manager: append-only
// tar containers per hierarchical key, a durable JSON index of every sealed
// part, and synchronization of both with a remote object store.
package archive

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
)

// Type distinguishes the two archive collections kept per court complex.
type Type string

// Supported archive types.
const (
	TypeOrders   Type = "orders"
	TypeMetadata Type = "metadata"
)

// Valid reports whether t is a known archive type.
func (t Type) Valid() bool {
	return t == TypeOrders || t == TypeMetadata
}

// remotePrefix returns the fixed bucket prefix segment for the type. Order
// PDFs live under data/tar, metadata JSON under metadata/tar.
func (t Type) remotePrefix() string {
	if t == TypeOrders {
		return "data/tar"
	}
	return "metadata/tar"
}

// Key identifies one logical archive collection: a court complex within a
// district and state, for one year and archive type. Keys are value types
// and are used as map keys.
type Key struct {
	Year         int
	StateCode    string
	DistrictCode string
	ComplexCode  string
	Type         Type
}

// Validate checks that every key component is present.
func (k Key) Validate() error {
	switch {
	case k.Year <= 0:
		return fmt.Errorf("archive key: year must be positive, got %d", k.Year)
	case k.StateCode == "":
		return fmt.Errorf("archive key: state code is required")
	case k.DistrictCode == "":
		return fmt.Errorf("archive key: district code is required")
	case k.ComplexCode == "":
		return fmt.Errorf("archive key: complex code is required")
	case !k.Type.Valid():
		return fmt.Errorf("archive key: unknown archive type %q", k.Type)
	}
	return nil
}

// String renders the key for logs: year/state/district/complex/type.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s/%s/%s", k.Year, k.StateCode, k.DistrictCode, k.ComplexCode, k.Type)
}

// CanonicalName is the name of the first container part (orders.tar or
// metadata.tar). Later parts get timestamped names from the partitioner.
func (k Key) CanonicalName() string {
	return string(k.Type) + ".tar"
}

// IndexName is the name of the key's index file, a sibling of its parts.
func (k Key) IndexName() string {
	return string(k.Type) + ".index.json"
}

// LocalDir returns the directory holding the key's parts and index under
// baseDir: baseDir/year/state/district/complex.
func (k Key) LocalDir(baseDir string) string {
	return filepath.Join(baseDir, strconv.Itoa(k.Year), k.StateCode, k.DistrictCode, k.ComplexCode)
}

// RemoteDir returns the object-store directory for the key:
// <prefix><data|metadata>/tar/year=Y/state=S/district=D/complex=C.
func (k Key) RemoteDir(prefix string) string {
	return prefix + path.Join(
		k.Type.remotePrefix(),
		fmt.Sprintf("year=%d", k.Year),
		"state="+k.StateCode,
		"district="+k.DistrictCode,
		"complex="+k.ComplexCode,
	)
}

// RemotePartPath returns the full object path for one container part.
func (k Key) RemotePartPath(prefix, partName string) string {
	return k.RemoteDir(prefix) + "/" + partName
}

// RemoteIndexPath returns the full object path for the key's index file.
func (k Key) RemoteIndexPath(prefix string) string {
	return k.RemoteDir(prefix) + "/" + k.IndexName()
}
