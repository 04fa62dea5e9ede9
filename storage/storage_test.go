package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// MockStorageBackend implements interfaces.StorageBackend for testing.
type MockStorageBackend struct {
	mock.Mock
	name string
}

func (m *MockStorageBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	args := m.Called(ctx, id, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorageBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	args := m.Called(ctx, data, contentType)
	return args.Get(0).(interfaces.ContentID), args.Error(1)
}

func (m *MockStorageBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockStorageBackend) Name() string {
	return m.name
}

func (m *MockStorageBackend) LocationURI() string {
	return "mock://" + m.name
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackend_RoundTrip(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "file-storage-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	backend, err := NewFileBackend(tempDir, testLogger())
	require.NoError(t, err)
	assert.True(t, backend.Available(context.Background()))

	data := []byte(`{"commitment_hash":"abc"}`)
	id, err := backend.Store(context.Background(), data, interfaces.ProofType)
	require.NoError(t, err)

	// Content addressing: the ID is the SHA-256 of the data.
	assert.Equal(t, interfaces.ContentID(sha256.Sum256(data)), id)

	fetched, err := backend.Fetch(context.Background(), id, interfaces.ProofType)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)

	// Proof and quote namespaces are separate.
	_, err = backend.Fetch(context.Background(), id, interfaces.QuoteType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	var missing interfaces.ContentID
	_, err = backend.Fetch(context.Background(), missing, interfaces.ProofType)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestMultiStorageBackend_Available(t *testing.T) {
	tests := []struct {
		name     string
		backends []bool
		expected bool
	}{
		{
			name:     "all backends available",
			backends: []bool{true, true, true},
			expected: true,
		},
		{
			name:     "some backends available",
			backends: []bool{false, true, false},
			expected: true,
		},
		{
			name:     "no backends available",
			backends: []bool{false, false, false},
			expected: false,
		},
		{
			name:     "no backends",
			backends: []bool{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []interfaces.StorageBackend
			for i, available := range tt.backends {
				mockStorage := &MockStorageBackend{name: fmt.Sprintf("mock-%d", i)}
				mockStorage.On("Available", mock.Anything).Return(available).Maybe()
				backends = append(backends, mockStorage)
			}

			multi := NewMultiStorageBackend(backends, testLogger())
			assert.Equal(t, tt.expected, multi.Available(context.Background()))
		})
	}
}

func TestMultiStorageBackend_StoreToAllAvailable(t *testing.T) {
	data := []byte("proof document")
	id := interfaces.ContentID(sha256.Sum256(data))

	healthy := &MockStorageBackend{name: "healthy"}
	healthy.On("Available", mock.Anything).Return(true)
	healthy.On("Store", mock.Anything, data, interfaces.ProofType).Return(id, nil)

	offline := &MockStorageBackend{name: "offline"}
	offline.On("Available", mock.Anything).Return(false)

	failing := &MockStorageBackend{name: "failing"}
	failing.On("Available", mock.Anything).Return(true)
	failing.On("Store", mock.Anything, data, interfaces.ProofType).Return(interfaces.ContentID{}, errors.New("write error"))

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{offline, failing, healthy}, testLogger())

	got, err := multi.Store(context.Background(), data, interfaces.ProofType)
	require.NoError(t, err, "one accepting backend is enough")
	assert.Equal(t, id, got)

	healthy.AssertExpectations(t)
	offline.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestMultiStorageBackend_StoreAllFail(t *testing.T) {
	failing := &MockStorageBackend{name: "failing"}
	failing.On("Available", mock.Anything).Return(true)
	failing.On("Store", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.ContentID{}, errors.New("write error"))

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{failing}, testLogger())

	_, err := multi.Store(context.Background(), []byte("data"), interfaces.ProofType)
	assert.Error(t, err)
}

func TestMultiStorageBackend_FetchFirstHit(t *testing.T) {
	data := []byte("proof document")
	id := interfaces.ContentID(sha256.Sum256(data))

	missing := &MockStorageBackend{name: "missing"}
	missing.On("Available", mock.Anything).Return(true)
	missing.On("Fetch", mock.Anything, id, interfaces.ProofType).Return(nil, interfaces.ErrContentNotFound)

	holding := &MockStorageBackend{name: "holding"}
	holding.On("Available", mock.Anything).Return(true)
	holding.On("Fetch", mock.Anything, id, interfaces.ProofType).Return(data, nil)

	multi := NewMultiStorageBackend([]interfaces.StorageBackend{missing, holding}, testLogger())

	got, err := multi.Fetch(context.Background(), id, interfaces.ProofType)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFactory_StorageBackendFor(t *testing.T) {
	factory := NewFactory(testLogger())

	tempDir, err := os.MkdirTemp("", "factory-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	backend, err := factory.StorageBackendFor("file://" + tempDir)
	require.NoError(t, err)
	assert.Contains(t, backend.Name(), "file")

	backend, err = factory.StorageBackendFor("ipfs://127.0.0.1:5001")
	require.NoError(t, err)
	assert.Contains(t, backend.Name(), "ipfs")

	_, err = factory.StorageBackendFor("gopher://example.com")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

func TestFactory_CreateMultiBackend(t *testing.T) {
	factory := NewFactory(testLogger())

	tempDir, err := os.MkdirTemp("", "factory-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	// A bad URI is skipped, not fatal.
	backend, err := factory.CreateMultiBackend([]string{"file://" + tempDir, "bogus://nope"})
	require.NoError(t, err)
	assert.Contains(t, backend.Name(), "file")

	// All bad is fatal.
	_, err = factory.CreateMultiBackend([]string{"bogus://nope"})
	assert.Error(t, err)
}
