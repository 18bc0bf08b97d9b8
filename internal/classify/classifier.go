// Package classify assigns category labels to tasks in the background.
// Created tasks are queued for an LLM categorization pass; a startup sweep
// and an hourly resweep pick up anything the queue missed.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/basket/giskard/internal/agent"
	"github.com/basket/giskard/internal/bus"
	"github.com/basket/giskard/internal/otel"
	"github.com/basket/giskard/internal/prompt"
	"github.com/basket/giskard/internal/store"
	"github.com/basket/giskard/internal/task"
)

// validCategories is the closed label set the classifier may assign.
var validCategories = map[string]bool{
	"health":   true,
	"career":   true,
	"learning": true,
}

const defaultQueueDepth = 64

type request struct {
	TaskID      int64
	Title       string
	Description string
}

// Classifier consumes a bounded queue of tasks and writes back category
// labels. Deleted tasks are dropped before their turn comes up.
type Classifier struct {
	client  agent.Client
	prompts *prompt.Registry
	store   *store.Store
	bus     *bus.Bus
	metrics *otel.Metrics
	logger  *slog.Logger

	queue chan request

	mu      sync.Mutex
	deleted map[int64]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(client agent.Client, prompts *prompt.Registry, st *store.Store, eventBus *bus.Bus, metrics *otel.Metrics, queueDepth int, logger *slog.Logger) *Classifier {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:  client,
		prompts: prompts,
		store:   st,
		bus:     eventBus,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan request, queueDepth),
		deleted: make(map[int64]bool),
	}
}

// Enqueue queues a task for categorization. Returns false when the queue
// is full; the resweep will pick the task up later.
func (c *Classifier) Enqueue(t *task.Task) bool {
	req := request{TaskID: t.ID, Title: t.Title, Description: t.Description}
	select {
	case c.queue <- req:
		if c.metrics != nil {
			c.metrics.ClassifyQueue.Add(context.Background(), 1)
		}
		if c.bus != nil {
			c.bus.Publish(bus.TopicClassifyQueued, bus.TaskEvent{
				TaskID: strconv.FormatInt(t.ID, 10),
				Title:  t.Title,
			})
		}
		return true
	default:
		return false
	}
}

// QueueDepth reports how many tasks are waiting.
func (c *Classifier) QueueDepth() int {
	return len(c.queue)
}

// Start launches the worker and the deletion watcher, then sweeps for
// tasks that are still uncategorized.
func (c *Classifier) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	sub := c.subscribeDeletions()
	c.wg.Add(1)
	go c.watchDeletions(ctx, sub)

	c.wg.Add(1)
	go c.worker(ctx)

	swept := c.SweepUncategorized(ctx)
	if swept > 0 {
		c.logger.Info("queued uncategorized tasks on startup", "count", swept)
	}
}

// Stop shuts the worker down and waits for it to exit.
func (c *Classifier) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// SweepUncategorized queues every task that still has no categories.
// Returns how many tasks were queued.
func (c *Classifier) SweepUncategorized(ctx context.Context) int {
	tasks, err := c.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		c.logger.Error("classification sweep failed", "error", err)
		return 0
	}
	queued := 0
	for _, t := range tasks {
		if len(t.Categories) > 0 {
			continue
		}
		if c.Enqueue(t) {
			queued++
		}
	}
	return queued
}

func (c *Classifier) subscribeDeletions() *bus.Subscription {
	if c.bus == nil {
		return nil
	}
	return c.bus.Subscribe(bus.TopicTaskDeleted)
}

// watchDeletions marks deleted task IDs so queued work for them is dropped.
func (c *Classifier) watchDeletions(ctx context.Context, sub *bus.Subscription) {
	defer c.wg.Done()
	if sub == nil {
		return
	}
	defer c.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			payload, ok := ev.Payload.(bus.TaskEvent)
			if !ok {
				continue
			}
			id, err := strconv.ParseInt(payload.TaskID, 10, 64)
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.deleted[id] = true
			c.mu.Unlock()
		}
	}
}

func (c *Classifier) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			if c.metrics != nil {
				c.metrics.ClassifyQueue.Add(ctx, -1)
			}
			c.process(ctx, req)
		}
	}
}

func (c *Classifier) process(ctx context.Context, req request) {
	if c.isDeleted(req.TaskID) {
		c.logger.Debug("skipping classification of deleted task", "task_id", req.TaskID)
		return
	}
	if !c.client.Enabled() {
		c.logger.Debug("llm disabled, skipping classification", "task_id", req.TaskID)
		return
	}
	if c.metrics != nil {
		c.metrics.ClassifyRuns.Add(ctx, 1)
	}

	categories, err := c.ClassifyText(ctx, req.Title, req.Description)
	if err != nil {
		c.logger.Error("classification failed", "task_id", req.TaskID, "title", req.Title, "error", err)
		return
	}
	if len(categories) == 0 {
		return
	}

	t, err := c.store.GetTask(ctx, req.TaskID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			c.logger.Error("load task for classification failed", "task_id", req.TaskID, "error", err)
		}
		return
	}
	t.Categories = categories
	if err := c.store.SaveTask(ctx, t); err != nil {
		c.logger.Error("save classified task failed", "task_id", req.TaskID, "error", err)
		return
	}

	c.logger.Info("task classified", "task_id", req.TaskID, "title", req.Title, "categories", categories)
	if c.bus != nil {
		c.bus.Publish(bus.TopicClassifyCompleted, bus.ClassificationEvent{
			TaskID:     strconv.FormatInt(req.TaskID, 10),
			Categories: categories,
		})
	}
}

// ClassifyText runs one categorization call and parses the labels.
func (c *Classifier) ClassifyText(ctx context.Context, title, description string) ([]string, error) {
	taskText := title
	if description != "" {
		taskText += " - " + description
	}
	rendered, err := c.prompts.Render(prompt.NameClassifier, map[string]string{
		"task_text": taskText,
	})
	if err != nil {
		return nil, fmt.Errorf("render classifier prompt: %w", err)
	}

	raw, err := c.client.Generate(ctx, "", rendered)
	if err != nil {
		return nil, err
	}
	return ParseCategories(raw), nil
}

func (c *Classifier) isDeleted(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted[id]
}

// ParseCategories extracts the JSON array of labels from an LLM response
// and drops anything outside the known category set. Unparseable output
// yields no labels; the classifier prefers precision over recall.
func ParseCategories(raw string) []string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var labels []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &labels); err != nil {
		return nil
	}

	var valid []string
	for _, label := range labels {
		if validCategories[label] {
			valid = append(valid, label)
		}
	}
	return valid
}
