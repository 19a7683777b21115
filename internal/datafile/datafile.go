package datafile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	FilePattern = "kvbridge_%d.db"
)

// DataFile is one append-only segment of the store. Records are written
// at the tail and read back by absolute offset.
type DataFile struct {
	sync.RWMutex

	writer *os.File
	reader *os.File
	id     int

	offset int
}

// New opens (or creates) the segment with the given index inside dir.
// At a given time only one segment accepts writes.
func New(dir string, index int) (*DataFile, error) {
	path := filepath.Join(dir, fmt.Sprintf(FilePattern, index))
	writer, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening file for writing db: %w", err)
	}

	// Separate read-only handle so reads don't disturb the append cursor.
	reader, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file for reading db: %w", err)
	}

	stat, err := writer.Stat()
	if err != nil {
		return nil, fmt.Errorf("error fetching file stats: %w", err)
	}

	df := &DataFile{
		writer: writer,
		reader: reader,
		id:     index,
		offset: int(stat.Size()),
	}

	return df, nil
}

// ID returns the segment index.
func (d *DataFile) ID() int {
	return d.id
}

// Size returns the segment size in bytes.
func (d *DataFile) Size() (int64, error) {
	stat, err := d.writer.Stat()
	if err != nil {
		return -1, fmt.Errorf("error fetching file stats: %w", err)
	}
	return stat.Size(), nil
}

// Sync flushes the filesystem buffers to disk.
func (d *DataFile) Sync() error {
	return d.writer.Sync()
}

// Read returns size bytes starting at the given offset.
func (d *DataFile) Read(pos int, size int) ([]byte, error) {
	record := make([]byte, size)

	n, err := d.reader.ReadAt(record, int64(pos))
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("error fetching record, invalid size")
	}

	return record, nil
}

// Write appends data at the tail and returns the offset it begins at.
func (d *DataFile) Write(data []byte) (int, error) {
	if _, err := d.writer.Write(data); err != nil {
		return -1, err
	}

	offset := d.offset
	d.offset += len(data)

	return offset, nil
}

// Close closes both file handles.
func (d *DataFile) Close() error {
	if err := d.writer.Close(); err != nil {
		return err
	}

	if err := d.reader.Close(); err != nil {
		return err
	}

	return nil
}
