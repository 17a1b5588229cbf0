package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/openjudiciary/ecourts-archiver/internal/clock"
)

// Builder appends named byte blobs into one append-only tar container part.
// Entries are never removed or rewritten. A Builder is not safe for
// concurrent use; the manager serializes access per key.
type Builder struct {
	key       Key
	name      string
	path      string
	file      *os.File
	tw        *tar.Writer
	files     []string
	size      int64
	createdAt time.Time
	clock     clock.Clock

	sealed bool
	part   Part
}

// OpenBuilder opens the container part `name` for the key under dir,
// creating the directory as needed. If the file already exists (an unsealed
// part left behind by a crash) the builder resumes after its last complete
// entry, recovering the entry names written so far.
func OpenBuilder(key Key, dir, name string, clk clock.Clock) (*Builder, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(dir, name)

	b := &Builder{
		key:       key,
		name:      name,
		path:      path,
		createdAt: clk.Now(),
		clock:     clk,
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	files, end, err := scanEntries(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("scan container %s: %w", path, err)
	}
	// Drop any torn tail from an interrupted append, then continue writing
	// from the end of the last complete entry.
	if err := file.Truncate(end); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("truncate container %s: %w", path, err)
	}
	if _, err := file.Seek(end, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("seek container %s: %w", path, err)
	}

	b.file = file
	b.tw = tar.NewWriter(file)
	b.files = files
	b.size = end
	return b, nil
}

// scanEntries walks an existing tar file and returns the entry names plus
// the byte offset just past the last complete entry (including its block
// padding). A corrupt or truncated tail stops the scan at the last entry
// that read back cleanly.
func scanEntries(f *os.File) ([]string, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)

	var names []string
	var end int64
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			break
		}
		// Block padding after the body is only consumed on the next header
		// read, so account for it here.
		pad := (blockSize - hdr.Size%blockSize) % blockSize
		names = append(names, hdr.Name)
		end = cr.n + pad
	}
	return names, end, nil
}

const blockSize = 512

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Name returns the part name the builder writes to.
func (b *Builder) Name() string {
	return b.name
}

// Path returns the local path of the container file.
func (b *Builder) Path() string {
	return b.path
}

// Files returns the names appended so far, in order.
func (b *Builder) Files() []string {
	return slices.Clone(b.files)
}

// Contains reports whether name was already appended to this part.
func (b *Builder) Contains(name string) bool {
	return slices.Contains(b.files, name)
}

// Empty reports whether no entries have been appended.
func (b *Builder) Empty() bool {
	return len(b.files) == 0
}

// Size returns the container's current on-disk size in bytes, including tar
// framing. The size grows monotonically with each append.
func (b *Builder) Size() int64 {
	return b.size
}

// EntryRef locates one appended entry within the key's archive.
type EntryRef struct {
	Part string
	Name string
	Size int64
}

// Sealed reports whether Seal has completed for this builder.
func (b *Builder) Sealed() bool {
	return b.sealed
}

// Append writes one named blob as a tar entry. It fails with a
// DuplicateNameError if the name is already present in this part; the
// manager additionally checks sealed parts via the index before calling.
func (b *Builder) Append(name string, data []byte) (EntryRef, error) {
	if b.sealed {
		return EntryRef{}, fmt.Errorf("container %s: append after seal", b.path)
	}
	if b.Contains(name) {
		return EntryRef{}, &DuplicateNameError{Key: b.key, Name: name}
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: b.clock.Now(),
	}
	if err := b.tw.WriteHeader(hdr); err != nil {
		return EntryRef{}, fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := b.tw.Write(data); err != nil {
		return EntryRef{}, fmt.Errorf("write tar entry %q: %w", name, err)
	}
	// Flush pushes the entry and its padding to disk so Size reflects it and
	// a crash loses at most the entry being written.
	if err := b.tw.Flush(); err != nil {
		return EntryRef{}, fmt.Errorf("flush tar entry %q: %w", name, err)
	}

	fi, err := b.file.Stat()
	if err != nil {
		return EntryRef{}, fmt.Errorf("stat container %s: %w", b.path, err)
	}
	b.files = append(b.files, name)
	b.size = fi.Size()
	return EntryRef{Part: b.name, Name: name, Size: int64(len(data))}, nil
}

// Seal finalizes the container, making the part immutable and eligible for
// upload. Seal is idempotent: sealing an already-sealed builder returns the
// same Part descriptor without touching the file again.
func (b *Builder) Seal() (Part, error) {
	if b.sealed {
		return b.part, nil
	}
	if err := b.tw.Close(); err != nil {
		return Part{}, fmt.Errorf("close tar writer %s: %w", b.path, err)
	}
	if err := b.file.Sync(); err != nil {
		return Part{}, fmt.Errorf("sync container %s: %w", b.path, err)
	}
	fi, err := b.file.Stat()
	if err != nil {
		return Part{}, fmt.Errorf("stat container %s: %w", b.path, err)
	}
	if err := b.file.Close(); err != nil {
		return Part{}, fmt.Errorf("close container %s: %w", b.path, err)
	}

	b.sealed = true
	b.size = fi.Size()
	b.part = Part{
		Name:      b.name,
		Files:     slices.Clone(b.files),
		FileCount: len(b.files),
		Size:      fi.Size(),
		SizeHuman: HumanSize(fi.Size()),
		CreatedAt: b.createdAt,
	}
	return b.part, nil
}

// Discard closes and removes an empty, unsealed container. It is used when
// a key is closed before anything was appended to its freshly opened part.
func (b *Builder) Discard() error {
	if b.sealed {
		return fmt.Errorf("container %s: discard after seal", b.path)
	}
	if !b.Empty() {
		return fmt.Errorf("container %s: refusing to discard %d entries", b.path, len(b.files))
	}
	if err := b.file.Close(); err != nil {
		return fmt.Errorf("close container %s: %w", b.path, err)
	}
	if err := os.Remove(b.path); err != nil {
		return fmt.Errorf("remove container %s: %w", b.path, err)
	}
	return nil
}
