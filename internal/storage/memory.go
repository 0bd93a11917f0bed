package storage

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"applyflow/internal/applications"
)

// Object is a stored file.
type Object struct {
	ContentType string
	Body        []byte
}

// MemoryStorage keeps objects in process. It uses the same key and URL layout
// as S3Storage.
type MemoryStorage struct {
	mu      sync.Mutex
	baseURL string
	bucket  string
	objects map[string]Object
	newID   func() string
}

// NewMemoryStorage constructs an empty store addressed as baseURL/bucket/key.
func NewMemoryStorage(baseURL, bucket string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://local"
	}
	if bucket == "" {
		bucket = "cvs"
	}
	return &MemoryStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		objects: make(map[string]Object),
		newID:   uuid.NewString,
	}
}

func (m *MemoryStorage) Upload(_ context.Context, file applications.File, owner, folder string) (applications.UploadResult, error) {
	if file.Content == nil {
		return applications.UploadResult{}, errors.Wrap(applications.ErrStorageFailure, "file has no content")
	}
	body, err := io.ReadAll(file.Content)
	if err != nil {
		return applications.UploadResult{}, errors.Mark(errors.Wrap(err, "read cv"), applications.ErrStorageFailure)
	}
	key := objectKey(owner, folder, m.newID(), file.Name)

	m.mu.Lock()
	m.objects[key] = Object{ContentType: file.ContentType, Body: body}
	m.mu.Unlock()

	return applications.UploadResult{
		FileURL:     m.baseURL + "/" + m.bucket + "/" + key,
		FileName:    file.Name,
		ContentType: file.ContentType,
		FileSize:    int64(len(body)),
	}, nil
}

func (m *MemoryStorage) Delete(_ context.Context, fileURL string) error {
	key, err := keyAfterBucket(fileURL, m.bucket)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Exists(_ context.Context, fileURL string) (bool, error) {
	key, err := keyAfterBucket(fileURL, m.bucket)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Count returns the number of objects whose key starts with prefix.
func (m *MemoryStorage) Count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

// Get returns a stored object by URL.
func (m *MemoryStorage) Get(fileURL string) (Object, bool) {
	key, err := keyAfterBucket(fileURL, m.bucket)
	if err != nil {
		return Object{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}
