package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"vigil/config"
	"vigil/models"
)

const (
	snapshotsRefPath = "presence-snapshots"
	targetsRefPath   = "targets"
)

// SnapshotArchive persists session snapshots to the Firebase Realtime
// Database in batches and bootstraps the initial target list from it.
type SnapshotArchive struct {
	client *db.Client
	config *config.Config
	logger *zap.Logger

	buffer       []*models.SessionSnapshot
	bufferMutex  sync.Mutex
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	snapshots    chan *models.SessionSnapshot
}

func NewSnapshotArchive(cfg *config.Config, logger *zap.Logger) (*SnapshotArchive, error) {
	ctx := context.Background()

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %v", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %v", err)
	}

	a := &SnapshotArchive{
		client:       client,
		config:       cfg,
		logger:       logger,
		buffer:       make([]*models.SessionSnapshot, 0, cfg.FirebaseBatchSize),
		maxBatchSize: cfg.FirebaseBatchSize,
		batchTimeout: time.Duration(cfg.FirebaseBatchTimeout) * time.Second,
		snapshots:    make(chan *models.SessionSnapshot, 256),
	}

	if err := a.testConnection(); err != nil {
		return nil, fmt.Errorf("firebase connection test failed: %v", err)
	}

	return a, nil
}

// testConnection verifies database access with retry.
func (a *SnapshotArchive) testConnection() error {
	ctx := context.Background()
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		a.logger.Info("Testing Firebase connection",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries))

		ref := a.client.NewRef("/")
		var data interface{}
		err := ref.Get(ctx, &data)

		if err == nil {
			a.logger.Info("Firebase connection successful")
			return nil
		}

		a.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// LoadTargets reads the bootstrap target list. Missing data is not an
// error: a fresh database simply tracks nothing.
func (a *SnapshotArchive) LoadTargets(ctx context.Context) ([]string, error) {
	var stored map[string]bool
	if err := a.client.NewRef(targetsRefPath).Get(ctx, &stored); err != nil {
		return nil, fmt.Errorf("error reading targets: %v", err)
	}

	targets := make([]string, 0, len(stored))
	for target, enabled := range stored {
		if enabled {
			targets = append(targets, target)
		}
	}

	a.logger.Info("Loaded targets from Firebase", zap.Int("count", len(targets)))
	return targets, nil
}

// SaveTarget records a target in the bootstrap list (enabled=false keeps the
// entry but stops it being loaded).
func (a *SnapshotArchive) SaveTarget(ctx context.Context, target string, enabled bool) error {
	ref := a.client.NewRef(targetsRefPath + "/" + target)
	if err := ref.Set(ctx, enabled); err != nil {
		return fmt.Errorf("error saving target %s: %v", target, err)
	}
	return nil
}

// Enqueue hands a snapshot to the batching loop. Drops when the queue is
// full so the snapshot fan-out never blocks on Firebase.
func (a *SnapshotArchive) Enqueue(snap *models.SessionSnapshot) {
	select {
	case a.snapshots <- snap:
	default:
		a.logger.Warn("Archive queue full, dropping snapshot",
			zap.String("target", snap.Target))
	}
}

// Run batches queued snapshots and flushes them on size or timeout until the
// context is cancelled, with a final flush on shutdown.
func (a *SnapshotArchive) Run(ctx context.Context) {
	a.logger.Info("Starting snapshot archive",
		zap.Int("max_batch_size", a.maxBatchSize),
		zap.Duration("batch_timeout", a.batchTimeout))

	a.flushTimer = time.NewTimer(a.batchTimeout)
	defer a.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Snapshot archive received shutdown signal")
			a.flushBuffer()
			return

		case snap := <-a.snapshots:
			a.bufferMutex.Lock()
			a.buffer = append(a.buffer, snap)
			currentSize := len(a.buffer)
			a.bufferMutex.Unlock()

			if currentSize >= a.maxBatchSize {
				if !a.flushTimer.Stop() {
					select {
					case <-a.flushTimer.C:
					default:
					}
				}
				a.flushBuffer()
				a.flushTimer.Reset(a.batchTimeout)
			}

		case <-a.flushTimer.C:
			a.flushBuffer()
			a.flushTimer.Reset(a.batchTimeout)
		}
	}
}

// flushBuffer writes the buffered snapshots with retry and backoff.
func (a *SnapshotArchive) flushBuffer() {
	a.bufferMutex.Lock()
	if len(a.buffer) == 0 {
		a.bufferMutex.Unlock()
		return
	}
	batch := make([]*models.SessionSnapshot, len(a.buffer))
	copy(batch, a.buffer)
	a.buffer = a.buffer[:0]
	a.bufferMutex.Unlock()

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = a.writeBatch(batch)
		if err == nil {
			a.logger.Debug("Flushed snapshot batch to Firebase",
				zap.Int("batch_size", len(batch)))
			return
		}

		a.logger.Error("Failed to flush snapshot batch",
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	a.logger.Error("Failed to flush batch after all retries, data lost",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

func (a *SnapshotArchive) writeBatch(batch []*models.SessionSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, snap := range batch {
		ref := a.client.NewRef(snapshotsRefPath + "/" + snap.Target)
		if _, err := ref.Push(ctx, snap); err != nil {
			return fmt.Errorf("error writing snapshot for %s: %v", snap.Target, err)
		}
	}
	return nil
}

// QueueDepth returns the number of buffered snapshots (for monitoring).
func (a *SnapshotArchive) QueueDepth() int {
	a.bufferMutex.Lock()
	defer a.bufferMutex.Unlock()
	return len(a.buffer)
}
