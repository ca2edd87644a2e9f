package flows

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/store"
)

// HandlerFunc executes one job. Handlers are registered per job name and must
// be safe for concurrent use.
type HandlerFunc func(ctx context.Context, payload Payload) error

// SchedulerConfig configures a flow scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger
	Store  store.FlowStore

	// Queues maps queue name to worker count. Unknown queues fall back to
	// DefaultConcurrency workers.
	Queues             map[string]int
	DefaultConcurrency int // default 4
	QueueSize          int // per-queue buffer (default 256)

	// OnFlowDone receives the terminal result of flows that finish without a
	// per-submission callback (resumed flows in particular).
	OnFlowDone func(FlowResult)
}

// Scheduler dispatches flow jobs to named worker queues and drives the
// children-before-parent execution order.
type Scheduler struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	queues   map[string]chan *jobItem
	flows    map[string]*flowState

	logger *slog.Logger
	fstore store.FlowStore

	queueConc   map[string]int
	defaultConc int
	queueSize   int
	onFlowDone  func(FlowResult)

	running bool
	ctx     context.Context
	wg      sync.WaitGroup
}

type flowState struct {
	mu     sync.Mutex
	id     string
	jobs   map[string]*jobState
	rootID string
	failed bool
	done   func(FlowResult)
}

type jobState struct {
	rec        *store.JobRecord
	payload    Payload
	childIDs   []string
	remaining  int // unfinished children
	failParent bool
}

type jobItem struct {
	flow *flowState
	job  *jobState
}

// NewScheduler creates a scheduler with defaults applied.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Scheduler{
		handlers:    make(map[string]HandlerFunc),
		queues:      make(map[string]chan *jobItem),
		flows:       make(map[string]*flowState),
		logger:      logger.With("component", "flow_scheduler"),
		fstore:      cfg.Store,
		queueConc:   cfg.Queues,
		defaultConc: cfg.DefaultConcurrency,
		queueSize:   cfg.QueueSize,
		onFlowDone:  cfg.OnFlowDone,
	}
}

// RegisterHandler registers the handler executed for jobs with the given name.
func (s *Scheduler) RegisterHandler(name string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
	s.logger.Debug("handler registered", "job", name)
}

// Start launches the worker pools. Queues are created lazily as flows
// reference them; Start must be called before Submit.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()
	s.logger.Info("flow scheduler started")
}

// Stop waits for in-flight workers to drain after ctx cancellation.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.logger.Info("flow scheduler stopped")
}

// queueFor returns the channel for a queue, creating it and its workers on
// first use.
func (s *Scheduler) queueFor(name string) chan *jobItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[name]; ok {
		return q
	}
	q := make(chan *jobItem, s.queueSize)
	s.queues[name] = q

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	conc := s.defaultConc
	if c, ok := s.queueConc[name]; ok && c > 0 {
		conc = c
	}
	for i := 0; i < conc; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, name, i, q)
	}
	s.logger.Debug("queue started", "queue", name, "workers", conc)
	return q
}

// Submit persists the flow's job records and enqueues its leaves. The done
// callback, when non-nil, receives the flow's terminal result; otherwise the
// scheduler-wide OnFlowDone is used.
func (s *Scheduler) Submit(ctx context.Context, spec FlowSpec, done func(FlowResult)) (string, error) {
	flowID := uuid.New().String()
	fs := &flowState{
		id:   flowID,
		jobs: make(map[string]*jobState),
		done: done,
	}

	var recs []*store.JobRecord
	rootID, err := s.buildTree(fs, &spec.Root, "", &recs)
	if err != nil {
		return "", err
	}
	fs.rootID = rootID

	if err := s.fstore.SaveJobs(ctx, recs); err != nil {
		return "", fmt.Errorf("persist flow jobs: %w", err)
	}

	s.mu.Lock()
	s.flows[flowID] = fs
	s.mu.Unlock()

	s.logger.Info("flow submitted", "flow_id", flowID, "root", spec.Root.Name, "jobs", len(recs))
	s.enqueueReady(ctx, fs)
	return flowID, nil
}

func (s *Scheduler) buildTree(fs *flowState, node *JobNode, parentID string, recs *[]*store.JobRecord) (string, error) {
	payloadJSON, err := node.Payload.encode()
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	rec := &store.JobRecord{
		ID:          id,
		FlowID:      fs.id,
		ParentID:    parentID,
		Name:        node.Name,
		Queue:       node.Queue,
		PayloadJSON: payloadJSON,
		FailParent:  node.FailParentOnChildFailure,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	js := &jobState{
		rec:        rec,
		payload:    node.Payload,
		failParent: node.FailParentOnChildFailure,
		remaining:  len(node.Children),
	}
	fs.jobs[id] = js
	*recs = append(*recs, rec)

	for i := range node.Children {
		childID, err := s.buildTree(fs, &node.Children[i], id, recs)
		if err != nil {
			return "", err
		}
		js.childIDs = append(js.childIDs, childID)
	}
	return id, nil
}

// enqueueReady pushes every pending job whose children have all finished.
func (s *Scheduler) enqueueReady(ctx context.Context, fs *flowState) {
	fs.mu.Lock()
	var ready []*jobState
	for _, js := range fs.jobs {
		if js.rec.Status == StatusPending && js.remaining == 0 && !fs.failed {
			js.rec.Status = StatusQueued
			ready = append(ready, js)
		}
	}
	fs.mu.Unlock()

	for _, js := range ready {
		_ = s.fstore.UpdateJobStatus(ctx, js.rec.ID, StatusQueued, "")
		q := s.queueFor(js.rec.Queue)
		select {
		case q <- &jobItem{flow: fs, job: js}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, queue string, workerNum int, q chan *jobItem) {
	defer s.wg.Done()
	logger := s.logger.With("queue", queue, "worker_num", workerNum)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		case item := <-q:
			s.execute(ctx, item)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, item *jobItem) {
	fs, js := item.flow, item.job

	fs.mu.Lock()
	if fs.failed {
		js.rec.Status = StatusCancelled
		fs.mu.Unlock()
		_ = s.fstore.UpdateJobStatus(ctx, js.rec.ID, StatusCancelled, "")
		s.logger.Debug("job cancelled, flow already failed", "flow_id", fs.id, "job", js.rec.Name)
		return
	}
	js.rec.Status = StatusRunning
	fs.mu.Unlock()

	_ = s.fstore.UpdateJobStatus(ctx, js.rec.ID, StatusRunning, "")
	logger := s.logger.With("flow_id", fs.id, "job", js.rec.Name, "job_id", js.rec.ID)
	logger.Debug("job started")

	s.mu.RLock()
	handler, ok := s.handlers[js.rec.Name]
	s.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for job %q", js.rec.Name)
	} else {
		err = handler(ctx, js.payload)
	}

	if err != nil {
		logger.Error("job failed", "error", err)
		s.handleFailure(ctx, fs, js, err)
		return
	}

	logger.Debug("job completed")
	s.handleSuccess(ctx, fs, js)
}

func (s *Scheduler) handleSuccess(ctx context.Context, fs *flowState, js *jobState) {
	fs.mu.Lock()
	js.rec.Status = StatusCompleted
	parentID := js.rec.ParentID
	isRoot := parentID == ""
	if !isRoot {
		fs.jobs[parentID].remaining--
	}
	fs.mu.Unlock()

	_ = s.fstore.UpdateJobStatus(ctx, js.rec.ID, StatusCompleted, "")

	if isRoot {
		s.finishFlow(fs, FlowResult{FlowID: fs.id})
		return
	}
	s.enqueueReady(ctx, fs)
}

// handleFailure marks the job failed and, when the job carries the
// fail-parent flag, fails every ancestor without executing it and ends the
// flow. Without the flag the parent still runs once its other children
// finish.
func (s *Scheduler) handleFailure(ctx context.Context, fs *flowState, js *jobState, jobErr error) {
	fs.mu.Lock()
	js.rec.Status = StatusFailed
	js.rec.Error = jobErr.Error()

	var failedAncestors []string
	propagate := js.failParent || js.rec.ParentID == ""
	if propagate {
		fs.failed = true
		for id := js.rec.ParentID; id != ""; {
			anc := fs.jobs[id]
			anc.rec.Status = StatusFailed
			anc.rec.Error = fmt.Sprintf("child job %s failed: %v", js.rec.Name, jobErr)
			failedAncestors = append(failedAncestors, id)
			id = anc.rec.ParentID
		}
	} else {
		fs.jobs[js.rec.ParentID].remaining--
	}
	fs.mu.Unlock()

	_ = s.fstore.UpdateJobStatus(ctx, js.rec.ID, StatusFailed, jobErr.Error())
	for _, id := range failedAncestors {
		fs.mu.Lock()
		msg := fs.jobs[id].rec.Error
		fs.mu.Unlock()
		_ = s.fstore.UpdateJobStatus(ctx, id, StatusFailed, msg)
	}

	if propagate {
		s.finishFlow(fs, FlowResult{
			FlowID:    fs.id,
			Failed:    true,
			FailedJob: js.rec.Name,
			Err:       jobErr,
		})
		return
	}
	s.enqueueReady(ctx, fs)
}

func (s *Scheduler) finishFlow(fs *flowState, res FlowResult) {
	if root, ok := fs.jobs[fs.rootID]; ok {
		res.RootPayload = root.payload
	}
	s.mu.Lock()
	delete(s.flows, fs.id)
	s.mu.Unlock()

	if res.Failed {
		s.logger.Info("flow failed", "flow_id", fs.id, "failed_job", res.FailedJob, "error", res.Err)
	} else {
		s.logger.Info("flow completed", "flow_id", fs.id)
	}

	cb := fs.done
	if cb == nil {
		cb = s.onFlowDone
	}
	if cb != nil {
		cb(res)
	}
}

// ActiveFlows returns the number of flows still in progress.
func (s *Scheduler) ActiveFlows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}
