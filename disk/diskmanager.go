// Package disk implements the external disk-manager collaborator the
// buffer pool depends on: page-sized reads and writes over a single
// backing file. It does not allocate page ids -- that arithmetic lives in
// the buffer pool per its striping contract.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/qujihan/storagecore/page"
)

// Manager performs page-granular I/O against a single backing file.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
}

// NewManager opens (creating if necessary) the file at path for
// page-sized random access I/O.
func NewManager(path string, pageSize int) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}
	return &Manager{file: f, pageSize: pageSize}, nil
}

// PageSize returns the fixed page size this manager was configured with.
func (m *Manager) PageSize() int { return m.pageSize }

// ReadPage reads the page at id into buf, which must be exactly PageSize
// bytes long.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != m.pageSize {
		return fmt.Errorf("disk: read buffer size %d != page size %d", len(buf), m.pageSize)
	}
	offset := int64(id) * int64(m.pageSize)
	n, err := m.file.ReadAt(buf, offset)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("disk: page %d not yet written (EOF at offset %d)", id, offset)
		}
		return fmt.Errorf("disk: reading page %d: %w", id, err)
	}
	if n != m.pageSize {
		return fmt.Errorf("disk: short read for page %d: got %d of %d bytes", id, n, m.pageSize)
	}
	return nil
}

// WritePage writes buf, which must be exactly PageSize bytes long, to the
// slot for id. The file grows to accommodate the offset if needed.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(buf) != m.pageSize {
		return fmt.Errorf("disk: write buffer size %d != page size %d", len(buf), m.pageSize)
	}
	offset := int64(id) * int64(m.pageSize)
	if _, err := m.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("disk: writing page %d: %w", id, err)
	}
	return nil
}

// DeallocatePage is a no-op placeholder: this design does not require the
// disk manager to reclaim space when a page is deleted.
func (m *Manager) DeallocatePage(id page.ID) error {
	return nil
}

// Sync flushes buffered writes to stable storage.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Sync()
}

// Close syncs and closes the backing file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
