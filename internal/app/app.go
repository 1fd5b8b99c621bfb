package app

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relay-trader/internal/account"
	"relay-trader/internal/api"
	"relay-trader/internal/batch"
	"relay-trader/internal/config"
	"relay-trader/internal/monitor"
	"relay-trader/internal/notify"
	"relay-trader/internal/position"
	"relay-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装全部组件并驱动HTTP服务，直到ctx取消。
// 退出时先优雅关闭HTTP服务，再等待在途的分批任务收尾。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("转发交易服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("addr", a.cfg.Server.Addr),
		zap.Bool("sandbox", a.cfg.Exchange.UseSandbox),
	)

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	accounts := account.NewManager(a.cfg.Exchange, a.logger)
	coordinator := batch.NewCoordinator(batch.NewRegistry(a.cfg.Batch.MaxFinishedJobs), a.logger)
	coordinator.SetObserver(func(job batch.Job) {
		monitorSvc.RecordBatchJob(context.Background(), job)
	})
	positions := position.NewService(a.logger)
	notifier := notify.NewClient(a.cfg.Notify.Timeout, a.logger)
	routes := notify.NewRouter(a.cfg.Notify)

	handler := api.NewHandler(api.Options{
		Logger: a.logger,
		RunCtx: ctx,
		Gateways: func(keyID string) (api.Gateway, error) {
			return accounts.Gateway(keyID)
		},
		Keys:        accounts,
		Coordinator: coordinator,
		Positions:   positions,
		Notifier:    notifier,
		Routes:      routes,
		Events:      monitorSvc,
		QuoteAsset:  a.cfg.Exchange.QuoteAsset,
	})

	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.logger.Info("HTTP服务已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("关闭HTTP服务失败", zap.Error(err))
		}

		// 在途的分批任务不随请求结束，等它们全部收尾后再退出。
		a.logger.Info("等待分批任务收尾")
		coordinator.Wait()
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	a.logger.Info("服务已停止")
	return nil
}
