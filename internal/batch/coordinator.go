package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"relay-trader/internal/exchange"
)

// InterruptedPrefix 标记因上下文取消（通常是进程关停）而终止的任务，
// 与交易所侧失败区分开。
const InterruptedPrefix = "已中断: "

type orderClient interface {
	CreateMarketOrder(ctx context.Context, symbol string, side exchange.Side, amount float64) (exchange.OrderRecord, error)
	SetLeverage(ctx context.Context, symbol string, leverage int64) error
}

// Request 描述一次分批执行请求。
type Request struct {
	Symbol          string
	Side            exchange.Side
	TotalAmount     float64
	Count           int
	DurationMinutes int
	MinAmount       float64
	MaxAmount       float64
	Leverage        int64
}

// Validate 校验分批参数。可行性约束 count*min <= total <= count*max
// 保证执行期间的随机抽取区间恒非空。
func (r Request) Validate() error {
	var err error

	if r.Symbol == "" {
		err = multierr.Append(err, errors.New("symbol 不能为空"))
	}
	if r.Side != exchange.SideBuy && r.Side != exchange.SideSell {
		err = multierr.Append(err, fmt.Errorf("无效的订单方向 %q", r.Side))
	}
	if r.TotalAmount <= 0 {
		err = multierr.Append(err, errors.New("总数量必须大于0"))
	}
	if r.Count < 1 {
		err = multierr.Append(err, errors.New("分批数量必须不小于1"))
	}
	if r.DurationMinutes < 1 {
		err = multierr.Append(err, errors.New("分批时长必须不小于1分钟"))
	}
	if r.MinAmount <= 0 {
		err = multierr.Append(err, errors.New("每批最小数量必须大于0"))
	}
	if r.MaxAmount < r.MinAmount {
		err = multierr.Append(err, errors.New("每批最大数量不能小于最小数量"))
	}
	if r.Leverage < 0 {
		err = multierr.Append(err, errors.New("杠杆倍数不能为负"))
	}
	if err != nil {
		return fmt.Errorf("batch: 分批参数无效: %w", err)
	}

	total := r.TotalAmount
	if total < float64(r.Count)*r.MinAmount || total > float64(r.Count)*r.MaxAmount {
		return fmt.Errorf("batch: 总数量 %v 无法按 %d 批在 [%v, %v] 区间内分配",
			total, r.Count, r.MinAmount, r.MaxAmount)
	}

	return nil
}

// Coordinator 管理所有分批任务的创建与后台执行。每个任务由独立协程
// 串行提交子订单，任务之间互不阻塞；状态仅通过注册表对外可见。
type Coordinator struct {
	registry *Registry
	logger   *zap.Logger
	wg       sync.WaitGroup

	// 测试注入点：随机抽样与批间等待。
	randFloat func() float64
	sleep     func(context.Context, time.Duration) error

	// 任务进入终态时回调，用于监控记录。
	observer func(Job)
}

// SetObserver 注册终态回调，须在首个任务启动前调用。
func (c *Coordinator) SetObserver(fn func(Job)) {
	c.observer = fn
}

// NewCoordinator 创建分批协调器。
func NewCoordinator(registry *Registry, logger *zap.Logger) *Coordinator {
	if registry == nil {
		registry = NewRegistry(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry:  registry,
		logger:    logger,
		randFloat: rand.Float64,
		sleep:     sleepContext,
	}
}

// Start 校验请求、登记任务并启动后台执行，立即返回任务ID。
// ctx 应为应用生命周期上下文而非单次HTTP请求的上下文。
func (c *Coordinator) Start(ctx context.Context, client orderClient, req Request) (string, error) {
	if client == nil {
		return "", exchange.ErrUnavailable
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := Job{
		ID:          fmt.Sprintf("%s_%s_%d", req.Symbol, req.Side, now.UnixNano()),
		Symbol:      req.Symbol,
		Side:        req.Side,
		TotalAmount: req.TotalAmount,
		Leverage:    req.Leverage,
		Orders:      make([]SubOrder, 0, req.Count),
		Status:      StatusActive,
		CreatedAt:   now,
	}
	if err := c.registry.add(job); err != nil {
		return "", err
	}

	c.wg.Add(1)
	go c.run(ctx, client, req, job)

	c.logger.Info("分批任务已启动",
		zap.String("job_id", job.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("total_amount", req.TotalAmount),
		zap.Int("count", req.Count),
		zap.Int("duration_minutes", req.DurationMinutes),
	)

	return job.ID, nil
}

func (c *Coordinator) run(ctx context.Context, client orderClient, req Request, job Job) {
	defer c.wg.Done()

	if req.Leverage > 0 {
		if err := client.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			c.fail(job, fmt.Errorf("设置杠杆失败: %w", err))
			return
		}
	}

	interval := pacingInterval(req.DurationMinutes, req.Count)

	for i := 0; i < req.Count; i++ {
		remaining := req.TotalAmount - job.ExecutedAmount
		remainingBatches := req.Count - i

		var amount float64
		if remainingBatches == 1 {
			// 最后一批吃掉全部剩余数量，吸收前序批次的浮点误差。
			amount = remaining
		} else {
			lo, hi := sizeBounds(remaining, remainingBatches, req.MinAmount, req.MaxAmount)
			amount = lo + c.randFloat()*(hi-lo)
		}

		record, err := client.CreateMarketOrder(ctx, req.Symbol, req.Side, amount)
		if err != nil {
			c.fail(job, fmt.Errorf("子订单 %d/%d 提交失败: %w", i+1, req.Count, err))
			return
		}

		job.Orders = append(job.Orders, SubOrder{OrderID: record.ID, Amount: amount, Index: i})
		job.ExecutedAmount += amount
		c.registry.put(job)

		c.logger.Info("子订单已提交",
			zap.String("job_id", job.ID),
			zap.String("order_id", record.ID),
			zap.Int("index", i),
			zap.Float64("amount", amount),
			zap.Float64("executed_amount", job.ExecutedAmount),
		)

		if i < req.Count-1 {
			if err := c.sleep(ctx, interval); err != nil {
				c.fail(job, fmt.Errorf("等待下一批时被中断: %w", err))
				return
			}
		}
	}

	job.Status = StatusCompleted
	c.registry.put(job)
	c.logger.Info("分批任务已完成",
		zap.String("job_id", job.ID),
		zap.Int("orders", len(job.Orders)),
		zap.Float64("executed_amount", job.ExecutedAmount),
	)
	c.notifyObserver(job)
}

func (c *Coordinator) notifyObserver(job Job) {
	if c.observer != nil {
		c.observer(job.clone())
	}
}

// fail 将任务置为终态 error。上下文取消（进程关停）与网关拒单共用同一
// 终态，但错误信息带 InterruptedPrefix 前缀，轮询方可据此区分两者。
func (c *Coordinator) fail(job Job, err error) {
	job.Status = StatusError

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		job.Error = InterruptedPrefix + err.Error()
		c.registry.put(job)
		c.logger.Warn("分批任务被中断",
			zap.String("job_id", job.ID),
			zap.Int("orders", len(job.Orders)),
			zap.Float64("executed_amount", job.ExecutedAmount),
			zap.Error(err),
		)
	} else {
		job.Error = err.Error()
		c.registry.put(job)
		c.logger.Error("分批任务失败",
			zap.String("job_id", job.ID),
			zap.Int("orders", len(job.Orders)),
			zap.Float64("executed_amount", job.ExecutedAmount),
			zap.Error(err),
		)
	}

	c.notifyObserver(job)
}

// Job 返回指定任务快照。
func (c *Coordinator) Job(id string) (Job, error) {
	return c.registry.Get(id)
}

// Jobs 返回全部任务快照。
func (c *Coordinator) Jobs() map[string]Job {
	return c.registry.List()
}

// Wait 阻塞直到所有后台任务退出，用于进程优雅关闭。
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
