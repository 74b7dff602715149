package codeindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_SubmitsIncrementalJobOnChange(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, root := indexTree(t, e, map[string]string{"users.ts": usersTS})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var submitted atomic.Int32
	var lastJob atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- e.Watch(ctx, cb.ID, func(j IndexJob) {
			lastJob.Store(j)
			submitted.Add(1)
		})
	}()

	// The watcher registers directories asynchronously, so keep writing
	// until a change set arrives.
	i := 0
	require.Eventually(t, func() bool {
		i++
		src := fmt.Sprintf("export function gen%d() { return %d; }\n", i, i)
		_ = os.WriteFile(filepath.Join(root, fmt.Sprintf("gen%d.ts", i)), []byte(src), 0o644)
		return submitted.Load() > 0
	}, 10*time.Second, 100*time.Millisecond)

	job := lastJob.Load().(IndexJob)
	assert.Equal(t, JobIncrementalUpdate, job.JobType)
	assert.Equal(t, WatchPriority, job.Priority)
	assert.Equal(t, cb.ID, job.CodebaseID)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_IgnoresUnsupportedFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	cb, root := indexTree(t, e, map[string]string{"users.ts": usersTS})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var submitted atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- e.Watch(ctx, cb.ID, func(IndexJob) { submitted.Add(1) })
	}()

	for i := 0; i < 5; i++ {
		writeTree(t, root, map[string]string{fmt.Sprintf("notes%d.md", i): "# notes\n"})
		time.Sleep(100 * time.Millisecond)
	}
	<-done
	assert.Zero(t, submitted.Load())
}

func TestWatch_UnknownCodebase(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	err := e.Watch(context.Background(), "8f14e45f-ceea-467f-a8f5-0b5e2c3b6d1a", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
