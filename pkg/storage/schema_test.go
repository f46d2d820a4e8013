package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/db-monitor/pkg/storage"
)

type flakyMigrator struct {
	failures int
	calls    int
}

func (f *flakyMigrator) EnsureSchema(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestBootstrapRetriesThenSucceeds(t *testing.T) {
	m := &flakyMigrator{failures: 2}
	ok := storage.Bootstrap(context.Background(), m, 5, time.Millisecond)
	assert.True(t, ok)
	assert.Equal(t, 3, m.calls)
}

func TestBootstrapGivesUpAfterAttempts(t *testing.T) {
	m := &flakyMigrator{failures: 100}
	ok := storage.Bootstrap(context.Background(), m, 5, time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 5, m.calls)
}

func TestBootstrapCancelled(t *testing.T) {
	m := &flakyMigrator{failures: 100}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	ok := storage.Bootstrap(ctx, m, 5, time.Hour)
	assert.False(t, ok)
	assert.Equal(t, 1, m.calls)
	assert.Less(t, time.Since(start), time.Second)
}
