package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"conify/internal/common"
	"conify/internal/dbmongo"
)

// MemoryStorage keeps attachments in process. It backs the memory store driver.
type MemoryStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
	meta  map[string]dbmongo.MediaFile
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		files: make(map[string][]byte),
		meta:  make(map[string]dbmongo.MediaFile),
	}
}

func (m *MemoryStorage) UploadFile(_ context.Context, filename, mimeType string, uploaderID int64, content io.Reader) (*dbmongo.MediaFile, error) {
	fileType := common.DetectFileType(mimeType)
	if !fileType.IsValid() {
		return nil, common.Invalid("unsupported media type %q", mimeType)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	mf := dbmongo.MediaFile{
		ID:         uuid.NewString(),
		Filename:   filename,
		Size:       int64(len(data)),
		FileType:   fileType,
		MimeType:   mimeType,
		UploadedBy: uploaderID,
		UploadedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[mf.ID] = data
	m.meta[mf.ID] = mf
	return &mf, nil
}

func (m *MemoryStorage) DownloadFile(_ context.Context, fileID string) (io.ReadCloser, *dbmongo.MediaFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[fileID]
	if !ok {
		return nil, nil, fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
	}
	mf := m.meta[fileID]
	return io.NopCloser(bytes.NewReader(data)), &mf, nil
}

func (m *MemoryStorage) DeleteFile(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
	}
	delete(m.files, fileID)
	delete(m.meta, fileID)
	return nil
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*dbmongo.MediaStorage)(nil)
)
