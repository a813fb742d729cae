package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/hupe1980/actoridx/codec"
	"github.com/hupe1980/actoridx/resource"
)

// Options configures a Store.
type Options struct {
	// Codec encodes new frames. Existing frames decode with their recorded codec.
	Codec codec.Codec
	// Compression of new frames.
	Compression Compression
	// Retry bounds write and read retries.
	Retry RetryPolicy
	// Resources optionally bounds concurrent writes and write throughput.
	Resources *resource.Controller
	// Logger receives retry diagnostics.
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration for a Store.
var DefaultOptions = Options{
	Codec:       codec.Default,
	Compression: CompressionNone,
	Retry:       DefaultRetryPolicy,
}

// Store persists framed values in a blob store.
type Store struct {
	blobs blobstore.BlobStore
	opts  Options
}

// NewStore creates a Store over blobs.
func NewStore(blobs blobstore.BlobStore, optFns ...func(o *Options)) *Store {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store{blobs: blobs, opts: opts}
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() blobstore.BlobStore {
	return s.blobs
}

// Load decodes the frame stored under name into v. It reports false when
// no such blob exists.
func (s *Store) Load(ctx context.Context, name string, v any) (bool, error) {
	var data []byte
	err := s.opts.Retry.Do(ctx, name, func(ctx context.Context) error {
		var err error
		data, err = blobstore.ReadAll(ctx, s.blobs, name)
		if errors.Is(err, blobstore.ErrNotFound) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if _, err := Decode(data, v); err != nil {
		return false, fmt.Errorf("load %s: %w", name, err)
	}
	return true, nil
}

// Save encodes v and writes it under name.
func (s *Store) Save(ctx context.Context, name string, v any) error {
	data, err := Encode(s.opts.Codec, s.opts.Compression, v)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return s.Put(ctx, name, data)
}

// Put writes an already framed payload under name with retries.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	attempt := 0
	return s.opts.Retry.Do(ctx, name, func(ctx context.Context) error {
		attempt++
		if err := s.opts.Resources.AcquireWrite(ctx, len(data)); err != nil {
			return err
		}
		defer s.opts.Resources.ReleaseWrite()

		err := s.blobs.Put(ctx, name, data)
		if err != nil {
			s.opts.Logger.Warn("state write failed", "blob", name, "attempt", attempt, "error", err)
		}
		return err
	})
}

// Delete removes name with retries.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.opts.Retry.Do(ctx, name, func(ctx context.Context) error {
		return s.blobs.Delete(ctx, name)
	})
}

// List returns the blob names with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := s.opts.Retry.Do(ctx, prefix, func(ctx context.Context) error {
		var err error
		names, err = s.blobs.List(ctx, prefix)
		return err
	})
	return names, err
}
