// Package testutil provides shared test doubles and HTTP assertions.
package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/banshee-data/camera.preview/internal/calibration"
)

// ErrNotFound is returned by MemStore for missing blobs.
var ErrNotFound = errors.New("not found")

// MemStore is an in-memory calibration and preference store.
type MemStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	prefs   map[string]string
	offsets map[string]calibration.Leveling
}

func NewMemStore() *MemStore {
	return &MemStore{
		blobs:   map[string][]byte{},
		prefs:   map[string]string{},
		offsets: map[string]calibration.Leveling{},
	}
}

func (s *MemStore) CalibrationBlob(_ context.Context, serial, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[serial+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *MemStore) SaveCalibrationBlob(_ context.Context, serial, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[serial+"/"+name] = data
	return nil
}

// SetLevelingOffset makes OffsetSource(serial) return l.
func (s *MemStore) SetLevelingOffset(serial string, l calibration.Leveling) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[serial] = l
}

// OffsetSource returns nil for machines without a stored offset.
func (s *MemStore) OffsetSource(serial string) calibration.OffsetSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offsets[serial]; !ok {
		return nil
	}
	return offsetFunc(func(context.Context) (calibration.Leveling, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.offsets[serial], nil
	})
}

type offsetFunc func(context.Context) (calibration.Leveling, error)

func (f offsetFunc) LoadLevelingOffset(ctx context.Context) (calibration.Leveling, error) {
	return f(ctx)
}

func (s *MemStore) Preference(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

func (s *MemStore) BoolPreference(ctx context.Context, key string) (bool, error) {
	v, ok, _ := s.Preference(ctx, key)
	if !ok {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func (s *MemStore) SetBoolPreference(_ context.Context, key string, v bool) error {
	s.Set(key, strconv.FormatBool(v))
	return nil
}

// Set stores a raw preference value.
func (s *MemStore) Set(key, v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = v
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
