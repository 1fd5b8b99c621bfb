package batch

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrJobNotFound 表示查询的分批任务不存在。
var ErrJobNotFound = errors.New("batch: 分批任务不存在")

// ErrJobExists 表示任务ID已被占用。
var ErrJobExists = errors.New("batch: 分批任务ID已存在")

const defaultMaxFinished = 100

// Registry 为所有分批任务的共享注册表。任务进入终态后按插入顺序
// 最多保留 maxFinished 条，活跃任务永不淘汰。
type Registry struct {
	mu          sync.RWMutex
	jobs        map[string]Job
	order       []string
	maxFinished int
}

// NewRegistry 创建注册表，maxFinished 非正时使用默认值。
func NewRegistry(maxFinished int) *Registry {
	if maxFinished <= 0 {
		maxFinished = defaultMaxFinished
	}
	return &Registry{
		jobs:        make(map[string]Job),
		order:       make([]string, 0),
		maxFinished: maxFinished,
	}
}

// add 登记新任务。ID已存在时返回 ErrJobExists 而不是覆盖旧任务。
func (r *Registry) add(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	job.UpdatedAt = time.Now().UTC()
	r.order = append(r.order, job.ID)
	r.jobs[job.ID] = job.clone()
	return nil
}

// put 写入任务快照。写入方持有自己的 Job 副本，注册表内永远保存克隆，
// 读取方因此不会观察到写入中途的状态。
func (r *Registry) put(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job.UpdatedAt = time.Now().UTC()
	if _, exists := r.jobs[job.ID]; !exists {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job.clone()

	if job.Status.Terminal() {
		r.evictLocked()
	}
}

func (r *Registry) evictLocked() {
	finished := 0
	for _, j := range r.jobs {
		if j.Status.Terminal() {
			finished++
		}
	}

	for finished > r.maxFinished {
		evicted := false
		for i, id := range r.order {
			if j, ok := r.jobs[id]; ok && j.Status.Terminal() {
				delete(r.jobs, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				finished--
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// Get 返回指定任务的快照。
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.clone(), nil
}

// List 返回全部任务快照。
func (r *Registry) List() map[string]Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Job, len(r.jobs))
	for id, job := range r.jobs {
		out[id] = job.clone()
	}
	return out
}

// Len 返回当前登记的任务数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
