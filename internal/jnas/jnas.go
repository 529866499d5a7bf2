// Package jnas 提供 JNAS 守护进程的主入口和初始化逻辑
package jnas

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jimmicro/grace"
	"github.com/jimyag/jnas/internal/jnas/config"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/internal/jnas/service"
	"github.com/jimyag/jnas/pkg/cmdrunner"
	"github.com/jimyag/jnas/pkg/lsblk"
	"github.com/jimyag/jnas/pkg/mdadm"
	"github.com/jimyag/jnas/pkg/smartctl"
	"github.com/jimyag/jnas/pkg/zfspool"
	"github.com/rs/zerolog"
)

// Server JNAS 守护进程
// 各组件在启动时构造一次，通过显式依赖注入组装，不使用全局单例
type Server struct {
	cfg         *config.Config
	repo        *repository.Repository
	scanner     *service.Scanner
	poolService *service.PoolService
	monitor     *service.Monitor
}

func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	// 1. 打开数据库
	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	poolRepo := repository.NewPoolRepository(repo.DB())
	deviceRepo := repository.NewDeviceRepository(repo.DB())

	// 2. 外部工具客户端，全部经过白名单执行器
	runner := cmdrunner.New()
	lsblkClient := lsblk.New(runner)
	smartClient := smartctl.New(runner)
	mdadmClient := mdadm.New(runner)
	zpoolClient := zfspool.New(runner)

	// 3. 业务服务
	scanner := service.NewScanner(lsblkClient, smartClient, deviceRepo).WithTTL(cfg.ScanTTL)
	validator := service.NewValidator(mdadmClient, runner)
	provisioner := service.NewMountProvisioner(cfg.FallbackRoot, poolRepo)
	poolService := service.NewPoolService(
		validator, mdadmClient, zpoolClient, runner,
		provisioner, scanner, poolRepo, deviceRepo,
	)
	monitor := service.NewMonitor(
		smartClient, mdadmClient, zpoolClient, provisioner,
		repo, poolRepo, deviceRepo, logger,
	).WithInterval(cfg.MonitorInterval)

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Str("db_path", cfg.DBPath).
		Msg("jnas initialized")

	return &Server{
		cfg:         cfg,
		repo:        repo,
		scanner:     scanner,
		poolService: poolService,
		monitor:     monitor,
	}, nil
}

func (s *Server) Run(ctx context.Context) error {
	// 使用 grace.Shepherd 管理服务生命周期
	services := []grace.Grace{
		s.monitor,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.monitor.Shutdown(ctx); err != nil {
		return err
	}
	return s.repo.Close()
}

// Name 实现 grace.Grace 接口
func (s *Server) Name() string {
	return "JNAS Server"
}

// Scanner 供外部请求层使用的设备扫描器
func (s *Server) Scanner() *service.Scanner {
	return s.scanner
}

// PoolService 供外部请求层使用的存储池编排器
func (s *Server) PoolService() *service.PoolService {
	return s.poolService
}

// Monitor 供外部请求层使用的健康监控器（性能序列只读查询）
func (s *Server) Monitor() *service.Monitor {
	return s.monitor
}

// zerologLogger 实现 grace.Logger 接口
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}
