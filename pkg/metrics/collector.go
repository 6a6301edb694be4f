package metrics

import (
	"time"

	"github.com/cnc5/glacier/pkg/storage"
	"github.com/cnc5/glacier/pkg/types"
)

// Collector periodically samples store contents into the prometheus gauges
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the store
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectSessionMetrics()
}

func (c *Collector) collectSessionMetrics() {
	sessions, err := c.store.ListSessions()
	if err != nil {
		return
	}
	SessionsTotal.Set(float64(len(sessions)))
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.store.ListTasks()
	if err != nil {
		UpdateComponent("store", false, err.Error())
		return
	}
	UpdateComponent("store", true, "")

	counts := make(map[types.TaskState]int)
	for _, task := range tasks {
		counts[task.State]++
	}

	// Zero out states with no tasks so gauges do not go stale
	allStates := []types.TaskState{
		types.TaskStateCreated,
		types.TaskStateScheduled,
		types.TaskStateRunning,
		types.TaskStateCompleted,
		types.TaskStateCompressing,
		types.TaskStatePacked,
		types.TaskStateDone,
		types.TaskStateKilled,
		types.TaskStateFailedBlender,
		types.TaskStateFailedTar,
	}
	for _, state := range allStates {
		TasksTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
