package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/Shoaib-Qureshi/LiquidFlow-Project-sub000/internal/pkg/env"
)

const (
	defaultWorkerCount           = 5
	defaultReplayIntervalMinutes = 10
	replayBatchSize              = 100
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue          *Queue
	replayInterval time.Duration
	replayTicker   *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitManager creates the global job queue manager on first call. Later
// calls return the existing instance and ignore their arguments.
func InitManager(client *redis.Client, ingestor Ingestor) *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOBQUEUE_WORKERS", defaultWorkerCount)
		replayMinutes := env.GetEnvInt("WEBHOOK_REPLAY_INTERVAL_MINUTES", defaultReplayIntervalMinutes)
		if replayMinutes <= 0 {
			replayMinutes = defaultReplayIntervalMinutes
		}

		globalManager = &Manager{
			queue:          NewQueue(client, ingestor, workerCount),
			replayInterval: time.Duration(replayMinutes) * time.Minute,
			stopCh:         make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager, or nil before InitManager.
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.replayTicker = time.NewTicker(m.replayInterval)
	m.wg.Add(1)
	go m.replayWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.replayTicker != nil {
		m.replayTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// replayWorker periodically re-enqueues webhook events nobody finished.
func (m *Manager) replayWorker() {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook replay worker (interval: %s)", m.replayInterval)

	stopCh := m.stopCh
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Webhook replay worker stopping")
			return
		case <-m.replayTicker.C:
			log.Debug("[JobQueue Manager] Running webhook replay check")
			if err := m.ReplayOnce(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Error replaying webhook events: %v", err)
			}
		}
	}
}

// ReplayOnce runs a single replay pass. Events younger than the replay
// interval are left to the workers already holding them.
func (m *Manager) ReplayOnce(ctx context.Context) error {
	_, err := m.queue.ReplayStaleWebhookEvents(ctx, m.replayInterval, replayBatchSize)
	return err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
