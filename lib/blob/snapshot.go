package blob

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Snapshot format
// --------------------------------------------------------------------------

// Layout (little endian):
//
//	magic    [8]byte "DTBLOB\x00\x00"
//	version  uint8
//	count    uint64
//	entries  count times:
//	    key       uint32 length + bytes
//	    tagCount  uint32, then per tag uint32 length + bytes
//	    datetime  int64 unix milliseconds
//	    value     uint32 length + bytes
//
// The id of an entry is not stored, it is derived from key and tags.
const (
	magicNum        = "DTBLOB\x00\x00"
	snapshotVersion = 1
)

// Save writes a snapshot of the storage to w.
//
// Thread-safety: Save may run concurrently with other operations; entries
// written during the save may or may not be part of the snapshot.
func (s *Store) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	entries := s.Entries()

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(snapshotVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeBytes(bw, []byte(e.Key)); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(e.Tags))); err != nil {
			return err
		}
		for _, tag := range e.Tags {
			if err := writeBytes(bw, []byte(tag)); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, e.Timestamp.UnixMilli()); err != nil {
			return err
		}
		if err := writeBytes(bw, e.Value); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the content of the storage with the snapshot read from r.
//
// Thread-safety: This function is not thread-safe and should only be called
// before the storage is shared.
func (s *Store) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	data := xsync.NewMapOf[string, Entry]()
	for i := uint64(0); i < count; i++ {
		key, err := readBytes(br)
		if err != nil {
			return err
		}

		var tagCount uint32
		if err := binary.Read(br, binary.LittleEndian, &tagCount); err != nil {
			return err
		}
		var tags []string
		for j := uint32(0); j < tagCount; j++ {
			tag, err := readBytes(br)
			if err != nil {
				return err
			}
			tags = append(tags, string(tag))
		}

		var ms int64
		if err := binary.Read(br, binary.LittleEndian, &ms); err != nil {
			return err
		}

		value, err := readBytes(br)
		if err != nil {
			return err
		}

		e := Entry{
			ID:        FullKey(string(key), tags),
			Key:       string(key),
			Tags:      tags,
			Value:     value,
			Timestamp: time.UnixMilli(ms).UTC(),
		}
		data.Store(e.ID, e)
	}

	s.data = data
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
