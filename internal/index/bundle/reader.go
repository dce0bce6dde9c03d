package bundle

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
)

// Reader gives random access to the blobs of one installed generation. It is
// safe for concurrent use.
type Reader struct {
	gen     uint64
	data    *os.File
	header  Header
	entries []Entry
}

// Open loads the index half of generation gen from dir and opens its data
// half. A malformed index file is reported as ErrCorruptBundle.
func Open(dir string, gen uint64) (*Reader, error) {
	raw, err := os.ReadFile(filepath.Join(dir, IndexName(gen)))
	if err != nil {
		return nil, fmt.Errorf("reading bundle index file: %w", err)
	}
	header, entries, err := parseIndex(raw)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, DataName(gen)))
	if err != nil {
		return nil, fmt.Errorf("opening bundle data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat bundle data file: %w", err)
	}
	if uint64(info.Size()) != header.DataSize {
		f.Close()
		return nil, apperrors.Newf(apperrors.ErrCorruptBundle,
			"generation %d data file has %d bytes, index says %d", gen, info.Size(), header.DataSize)
	}
	return &Reader{gen: gen, data: f, header: header, entries: entries}, nil
}

func parseIndex(raw []byte) (Header, []Entry, error) {
	if len(raw) < HeaderSize {
		return Header{}, nil, apperrors.Newf(apperrors.ErrCorruptBundle, "index file of %d bytes", len(raw))
	}
	h := Header{
		Magic:     binary.LittleEndian.Uint32(raw[0:4]),
		Version:   binary.LittleEndian.Uint32(raw[4:8]),
		Count:     binary.LittleEndian.Uint32(raw[8:12]),
		Checksum:  binary.LittleEndian.Uint32(raw[12:16]),
		CreatedAt: int64(binary.LittleEndian.Uint64(raw[16:24])),
		DataSize:  binary.LittleEndian.Uint64(raw[24:32]),
	}
	if h.Magic != IndexMagic {
		return h, nil, apperrors.Newf(apperrors.ErrCorruptBundle, "bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return h, nil, apperrors.Newf(apperrors.ErrCorruptBundle, "unsupported version %d", h.Version)
	}
	table := raw[HeaderSize:]
	if len(table) != int(h.Count)*EntrySize {
		return h, nil, apperrors.Newf(apperrors.ErrCorruptBundle,
			"entry table of %d bytes for %d entries", len(table), h.Count)
	}
	if crc32.ChecksumIEEE(table) != h.Checksum {
		return h, nil, apperrors.New(apperrors.ErrCorruptBundle, "entry table checksum mismatch")
	}
	entries := make([]Entry, h.Count)
	for i := range entries {
		off := i * EntrySize
		e := Entry{
			Key:    binary.LittleEndian.Uint32(table[off : off+4]),
			Length: binary.LittleEndian.Uint32(table[off+4 : off+8]),
			Offset: binary.LittleEndian.Uint64(table[off+8 : off+16]),
		}
		if i > 0 && e.Key <= entries[i-1].Key {
			return h, nil, apperrors.Newf(apperrors.ErrCorruptBundle, "entry %d out of key order", i)
		}
		if e.Offset+uint64(e.Length) > h.DataSize {
			return h, nil, apperrors.Newf(apperrors.ErrCorruptBundle, "entry %d points past the data file", i)
		}
		entries[i] = e
	}
	return h, entries, nil
}

func (r *Reader) Generation() uint64 {
	return r.gen
}

func (r *Reader) Header() Header {
	return r.header
}

// Len is the number of keys in the generation.
func (r *Reader) Len() int {
	return len(r.entries)
}

// Keys returns every key in ascending order.
func (r *Reader) Keys() []uint32 {
	keys := make([]uint32, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.Key
	}
	return keys
}

// Has reports whether key is present.
func (r *Reader) Has(key uint32) bool {
	_, ok := r.find(key)
	return ok
}

// Get returns the blob stored under key. ok is false when the key is absent.
func (r *Reader) Get(key uint32) (blob []byte, ok bool, err error) {
	i, ok := r.find(key)
	if !ok {
		return nil, false, nil
	}
	blob, err = r.read(r.entries[i])
	if err != nil {
		return nil, true, err
	}
	return blob, true, nil
}

func (r *Reader) find(key uint32) (int, bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Key >= key })
	return i, i < len(r.entries) && r.entries[i].Key == key
}

func (r *Reader) read(e Entry) ([]byte, error) {
	blob := make([]byte, e.Length)
	n, err := r.data.ReadAt(blob, int64(e.Offset))
	if err != nil && !(err == io.EOF && n == len(blob)) {
		return nil, fmt.Errorf("reading blob for key %#x: %w", e.Key, err)
	}
	return blob, nil
}

// ForEach calls fn for every key with keys in [from, to), in ascending order.
// It stops at the first error.
func (r *Reader) ForEach(from, to uint32, fn func(key uint32, blob []byte) error) error {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].Key >= from })
	for ; i < len(r.entries) && r.entries[i].Key < to; i++ {
		blob, err := r.read(r.entries[i])
		if err != nil {
			return err
		}
		if err := fn(r.entries[i].Key, blob); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) Close() error {
	return r.data.Close()
}
