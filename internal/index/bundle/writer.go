// Package bundle stores one generation of the inverted index as a pair of
// files: gen-<n>.dat holds the concatenated bucket blobs and gen-<n>.idx maps
// each descriptor key to its blob. A CURRENT pointer file names the live
// generation; replacing it is the commit point of every index write.
package bundle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// IndexMagic is "MSIX" in little-endian.
	IndexMagic    uint32 = 0x5849534D
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	EntrySize     int    = 16

	dataSuffix  = ".dat"
	indexSuffix = ".idx"
	namePrefix  = "gen-"
)

// Header is the 64-byte header at the start of every .idx file.
//
//	magic u32 | version u32 | count u32 | crc32 u32 | createdAt i64 | dataSize u64 | reserved
//
// The checksum covers the entry table that follows the header.
type Header struct {
	Magic     uint32
	Version   uint32
	Count     uint32
	Checksum  uint32
	CreatedAt int64
	DataSize  uint64
}

// Entry locates one bucket blob inside the .dat file.
type Entry struct {
	Key    uint32
	Length uint32
	Offset uint64
}

func DataName(gen uint64) string {
	return namePrefix + strconv.FormatUint(gen, 10) + dataSuffix
}

func IndexName(gen uint64) string {
	return namePrefix + strconv.FormatUint(gen, 10) + indexSuffix
}

// ParseName returns the generation of a bundle file name, or false when name
// is not one.
func ParseName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, namePrefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(name, namePrefix)
	switch {
	case strings.HasSuffix(rest, dataSuffix):
		rest = strings.TrimSuffix(rest, dataSuffix)
	case strings.HasSuffix(rest, indexSuffix):
		rest = strings.TrimSuffix(rest, indexSuffix)
	default:
		return 0, false
	}
	gen, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Writer streams bucket blobs into a new generation. Keys must be appended in
// strictly ascending order. Nothing is visible to readers until the files are
// installed and CURRENT is switched.
type Writer struct {
	dir     string
	gen     uint64
	data    *os.File
	entries []Entry
	offset  uint64
	done    bool
}

// NewWriter creates the data file of generation gen inside dir.
func NewWriter(dir string, gen uint64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, DataName(gen)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating bundle data file: %w", err)
	}
	return &Writer{dir: dir, gen: gen, data: f}, nil
}

func (w *Writer) Generation() uint64 {
	return w.gen
}

// Count is the number of blobs appended so far.
func (w *Writer) Count() int {
	return len(w.entries)
}

// Append writes blob under key.
func (w *Writer) Append(key uint32, blob []byte) error {
	if w.done {
		return fmt.Errorf("bundle writer for generation %d already finished", w.gen)
	}
	if n := len(w.entries); n > 0 && key <= w.entries[n-1].Key {
		return fmt.Errorf("key %#x appended after %#x", key, w.entries[n-1].Key)
	}
	if len(blob) == 0 {
		return fmt.Errorf("empty blob for key %#x", key)
	}
	if _, err := w.data.Write(blob); err != nil {
		return fmt.Errorf("writing blob for key %#x: %w", key, err)
	}
	w.entries = append(w.entries, Entry{Key: key, Length: uint32(len(blob)), Offset: w.offset})
	w.offset += uint64(len(blob))
	return nil
}

// Finish syncs the data file and writes the index file.
func (w *Writer) Finish() error {
	if w.done {
		return fmt.Errorf("bundle writer for generation %d already finished", w.gen)
	}
	w.done = true
	if err := w.data.Sync(); err != nil {
		w.data.Close()
		return fmt.Errorf("syncing bundle data file: %w", err)
	}
	if err := w.data.Close(); err != nil {
		return fmt.Errorf("closing bundle data file: %w", err)
	}

	table := make([]byte, len(w.entries)*EntrySize)
	for i, e := range w.entries {
		off := i * EntrySize
		binary.LittleEndian.PutUint32(table[off:off+4], e.Key)
		binary.LittleEndian.PutUint32(table[off+4:off+8], e.Length)
		binary.LittleEndian.PutUint64(table[off+8:off+16], e.Offset)
	}
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], IndexMagic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(w.entries)))
	binary.LittleEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(table))
	binary.LittleEndian.PutUint64(header[16:24], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(header[24:32], w.offset)

	if err := writeFileSync(filepath.Join(w.dir, IndexName(w.gen)), append(header, table...)); err != nil {
		return fmt.Errorf("writing bundle index file: %w", err)
	}
	return syncDir(w.dir)
}

// Abort closes and removes whatever the writer produced.
func (w *Writer) Abort() {
	if !w.done {
		w.done = true
		w.data.Close()
	}
	os.Remove(filepath.Join(w.dir, DataName(w.gen)))
	os.Remove(filepath.Join(w.dir, IndexName(w.gen)))
}

// Install moves a finished generation from srcDir into dstDir. The index half
// moves last so a crash between the renames leaves a data file without an
// index, which Open treats as stray.
func Install(srcDir, dstDir string, gen uint64) error {
	if err := os.Rename(filepath.Join(srcDir, DataName(gen)), filepath.Join(dstDir, DataName(gen))); err != nil {
		return fmt.Errorf("installing bundle data file: %w", err)
	}
	if err := os.Rename(filepath.Join(srcDir, IndexName(gen)), filepath.Join(dstDir, IndexName(gen))); err != nil {
		return fmt.Errorf("installing bundle index file: %w", err)
	}
	return syncDir(dstDir)
}

// Remove deletes both halves of a generation, ignoring missing files.
func Remove(dir string, gen uint64) error {
	for _, name := range []string{IndexName(gen), DataName(gen)} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}
