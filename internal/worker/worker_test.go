package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jwestbrook/imageflow/internal/config"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/model"
	"github.com/jwestbrook/imageflow/internal/queue"
	"github.com/jwestbrook/imageflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		WorkerCount:    2,
		MaxJobAttempts: 3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func testPool(t *testing.T) *Pool {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := database.NewSQLiteDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	return &Pool{
		DB:    db,
		Store: storage.NewFileSystem(t.TempDir(), "http://localhost:8080"),
		Queue: queue.NewRedis(mr.Addr()),
		Cfg:   testConfig(),
	}
}

func createTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// seedJob stores an original blob, its record, and a pending job.
func seedJob(t *testing.T, p *Pool, req model.TransformRequest) *model.Image {
	t.Helper()
	ctx := context.Background()
	data := createTestJPEG(t, 1000, 800)

	id := uuid.New().String()
	key := "originals/" + id + ".jpg"
	url, err := p.Store.Put(ctx, key, "image/jpeg", data)
	require.NoError(t, err)

	img := &model.Image{
		ID:               id,
		OwnerID:          "user-1",
		FileName:         "photo.jpg",
		ContentType:      "image/jpeg",
		SizeBytes:        int64(len(data)),
		OriginalKey:      key,
		OriginalURL:      url,
		Width:            1000,
		Height:           800,
		ProcessingStatus: model.StatusNone,
		Uploaded:         time.Now().UTC(),
	}
	require.NoError(t, p.DB.CreateImage(img, 20))
	require.NoError(t, p.DB.CreateJob(&model.Job{ImageID: id, Request: req}))
	return img
}

func TestProcessCompletesJob(t *testing.T) {
	p := testPool(t)
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 400})

	p.process(context.Background(), img.ID)

	got, err := p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, 400, got.ProcessedWidth)
	assert.Equal(t, 320, got.ProcessedHeight)
	assert.True(t, strings.HasPrefix(got.ProcessedKey, "processed/"), got.ProcessedKey)
	assert.NotEmpty(t, got.ProcessedURL)

	// The processed blob must exist before anyone can see "completed".
	exists, err := p.Store.Exists(context.Background(), got.ProcessedKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessFailsOnBadTransform(t *testing.T) {
	p := testPool(t)
	// The crop is outside the real bounds. A doomed job must never retry.
	img := seedJob(t, p, model.TransformRequest{
		Crop: &model.CropRect{X: 900, Y: 700, Width: 500, Height: 500},
	})

	p.process(context.Background(), img.ID)

	got, err := p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)

	// Terminal: the job cannot be claimed again.
	_, claimed, err := p.DB.ClaimJob(img.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestProcessFailsWhenOriginalMissing(t *testing.T) {
	p := testPool(t)
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 100})
	require.NoError(t, p.Store.Delete(context.Background(), img.OriginalKey))

	p.process(context.Background(), img.ID)

	got, err := p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
}

// flakyStore fails every Get with a transient error.
type flakyStore struct {
	storage.Storage
	gets atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	return nil, errors.New("connection reset")
}

func TestProcessRetriesTransientThenGivesUp(t *testing.T) {
	p := testPool(t)
	p.Cfg.MaxJobAttempts = 2
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 100})
	flaky := &flakyStore{Storage: p.Store}
	p.Store = flaky

	// First attempt: transient failure, job released for retry.
	p.process(context.Background(), img.ID)
	got, err := p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.ProcessingStatus)

	// Second attempt exhausts the cap.
	p.process(context.Background(), img.ID)
	got, err = p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
	assert.Equal(t, int32(2), flaky.gets.Load())
}

// deletingStore deletes the image record during the processed-blob write,
// simulating an owner delete racing the worker.
type deletingStore struct {
	storage.Storage
	db      database.Database
	imageID string
}

func (s *deletingStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if strings.HasPrefix(key, "processed/") {
		if err := s.db.DeleteImage("user-1", s.imageID); err != nil {
			return "", err
		}
	}
	return s.Storage.Put(ctx, key, contentType, data)
}

func TestProcessDiscardsResultWhenImageDeleted(t *testing.T) {
	p := testPool(t)
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 100})
	p.Store = &deletingStore{Storage: p.Store, db: p.DB, imageID: img.ID}

	p.process(context.Background(), img.ID)

	// Deletion wins: no record, and the orphaned processed blob is gone.
	_, err := p.DB.GetImageByID(img.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	exists, err := p.Store.Exists(context.Background(), "processed/"+img.ID+".jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

// countingStore counts processed-blob writes.
type countingStore struct {
	storage.Storage
	puts atomic.Int32
}

func (s *countingStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if strings.HasPrefix(key, "processed/") {
		s.puts.Add(1)
	}
	return s.Storage.Put(ctx, key, contentType, data)
}

func TestProcessDuplicateDeliveryRunsOnce(t *testing.T) {
	p := testPool(t)
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 100})
	counting := &countingStore{Storage: p.Store}
	p.Store = counting

	// The same ID delivered twice: the claim makes the second a no-op.
	p.process(context.Background(), img.ID)
	p.process(context.Background(), img.ID)

	assert.Equal(t, int32(1), counting.puts.Load())
	got, err := p.DB.GetImage("user-1", img.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.ProcessingStatus)
}

// keyedCountingStore counts processed-blob writes per key.
type keyedCountingStore struct {
	storage.Storage
	mu   sync.Mutex
	puts map[string]int
}

func (s *keyedCountingStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if strings.HasPrefix(key, "processed/") {
		s.mu.Lock()
		s.puts[key]++
		s.mu.Unlock()
	}
	return s.Storage.Put(ctx, key, contentType, data)
}

func TestRunConcurrentJobsExecuteExactlyOnce(t *testing.T) {
	p := testPool(t)
	p.Cfg.WorkerCount = 4
	counting := &keyedCountingStore{Storage: p.Store, puts: map[string]int{}}

	const n = 8
	imgs := make([]*model.Image, 0, n)
	for i := 0; i < n; i++ {
		imgs = append(imgs, seedJob(t, p, model.TransformRequest{ResizeWidth: 100}))
	}
	p.Store = counting

	// Every ID delivered twice; startup recovery adds a third copy of
	// each. The claim must still let exactly one execution through.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, img := range imgs {
		require.NoError(t, p.Queue.Enqueue(ctx, img.ID))
		require.NoError(t, p.Queue.Enqueue(ctx, img.ID))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		for _, img := range imgs {
			got, err := p.DB.GetImage("user-1", img.ID)
			if err != nil || got.ProcessingStatus != model.StatusCompleted {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down")
	}

	counting.mu.Lock()
	defer counting.mu.Unlock()
	for _, img := range imgs {
		key := "processed/" + img.ID + ".jpg"
		assert.Equal(t, 1, counting.puts[key], "image %s", img.ID)
	}
}

func TestRunRecoversUnfinishedJobs(t *testing.T) {
	p := testPool(t)
	// A job that was never enqueued, as after a crash between the DB
	// write and the queue push.
	img := seedJob(t, p, model.TransformRequest{ResizeWidth: 200})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		got, err := p.DB.GetImage("user-1", img.ID)
		if err != nil {
			return false
		}
		return got.ProcessingStatus == model.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not shut down")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := &Pool{Cfg: &config.Config{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  time.Second,
	}}

	assert.Equal(t, 100*time.Millisecond, p.backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.backoff(4))
	assert.Equal(t, time.Second, p.backoff(5))
	assert.Equal(t, time.Second, p.backoff(10))
}
