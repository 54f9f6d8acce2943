package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
	"github.com/Skeyelab/annualreview.com/internal/pkg/generation"
	"github.com/Skeyelab/annualreview.com/internal/pkg/metrics/counter"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	db                 *gorm.DB
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Initialize wires the singleton manager with its collaborators. Called once
// from main before the router starts taking traffic.
func Initialize(runner generation.Runner, db *gorm.DB) *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if raw := env.GetEnv("JOBQUEUE_WORKERS", ""); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				workerCount = n
			}
		}

		globalManager = &Manager{
			queue:  NewQueue(runner, workerCount),
			db:     db,
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager (singleton)
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

	// Recreate stop channel for each start cycle so the manager can be restarted.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.counterFlushTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.counterFlushWorker()
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks")
	close(m.stopCh)
	m.running = false
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	m.queue.Stop()
	m.wg.Wait()

	// Final drain so counts collected since the last tick survive shutdown.
	if err := counter.FlushAll(m.db); err != nil {
		log.Errorf("[JobQueue Manager] Final counter flush failed: %v", err)
	}
}

func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.counterFlushTicker.C:
			if err := counter.FlushAll(m.db); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush failed: %v", err)
			}
		}
	}
}
