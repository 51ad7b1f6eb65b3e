package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/api"
	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/database"
	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/logger"
	"github.com/wfunc/sdm3000/internal/service"
	ws "github.com/wfunc/sdm3000/internal/websocket"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 守护进程实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *gorm.DB
	ctrl        *hardware.Controller
	services    *service.Services
	reconnector *hardware.Reconnector
	hub         *ws.Hub
	httpServer  *http.Server
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		mockMode    = flag.Bool("mock", false, "使用内置模拟设备")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if *mockMode {
		cfg.Serial.MockMode = true
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	server := NewServer(cfg)
	if err := server.initComponents(); err != nil {
		logger.Fatal("服务启动失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务已安全关闭")
}

// NewServer 创建守护进程实例
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
	}
}

// initComponents 初始化组件，顺序：数据库 -> 控制器 -> 服务 -> 推送 -> HTTP
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...",
		zap.String("version", Version),
		zap.String("device", s.cfg.Serial.Port),
		zap.Bool("mock", s.cfg.Serial.MockMode))

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initController(); err != nil {
		return err
	}

	s.services = service.NewServices(s.cfg, s.db, s.ctrl, s.logger)

	if s.cfg.Serial.AutoReconnect {
		s.reconnector = hardware.NewReconnector(s.ctrl,
			s.cfg.Serial.ReconnectInterval,
			s.cfg.Serial.ReconnectMaxInterval,
			!s.cfg.Serial.MockMode)
	}

	s.hub = ws.NewHub(logger.GetModuleLogger("api"), s.cfg.WebSocket.PingInterval, s.ctrl.Snapshot)
	s.ctrl.AddListener(s.hub.OnEvent)

	router := api.NewRouter(s.cfg, s.db, s.ctrl, s.services, s.hub, logger.GetModuleLogger("api"))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库，未配置驱动时不落库
func (s *Server) initDatabase() error {
	if s.cfg.Database.Driver == "" {
		s.logger.Warn("未配置数据库，出钞审计和帧日志不会持久化")
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	s.db = database.GetDB()

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(s.db); err != nil {
			return err
		}
	}
	return nil
}

// initController 创建串口控制器
func (s *Server) initController() error {
	opts, err := hardware.OptionsFrom(&s.cfg.Serial)
	if err != nil {
		return err
	}
	if s.cfg.Serial.MockMode {
		opts.Opener = hardware.NewSimulator().Opener()
		s.logger.Warn("串口模拟模式，不会访问真实设备")
	}
	s.ctrl = hardware.NewController(opts)
	return nil
}

// Run 启动所有后台任务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.services.SerialLog != nil {
		g.Go(func() error { return s.services.SerialLog.Run(gctx) })
	}
	g.Go(func() error { return s.hub.Run(gctx) })
	if s.reconnector != nil {
		g.Go(func() error { return s.reconnector.Run(gctx) })
	}

	g.Go(func() error {
		s.logger.Info("HTTP服务启动", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, errors.ErrUnknown, "HTTP服务异常")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	// 监听配置变化，目前只热更新日志级别
	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("配置已更新", zap.String("log_level", newCfg.Log.Level))
	})

	if s.cfg.Serial.Enabled && s.cfg.Serial.AutoConnect {
		g.Go(func() error {
			s.autoConnect(gctx)
			return nil
		})
	}

	return g.Wait()
}

// autoConnect 启动时连接默认串口，失败交给重连器
func (s *Server) autoConnect(ctx context.Context) {
	baud := s.cfg.Serial.BaudRate
	if baud <= 0 {
		baud = hardware.DefaultBaudRate
	}
	if err := s.ctrl.Connect(ctx, s.cfg.Serial.Port, baud); err != nil {
		s.logger.Warn("自动连接设备失败", zap.String("device", s.cfg.Serial.Port), zap.Error(err))
		if s.reconnector != nil {
			s.reconnector.Trigger()
		}
		return
	}
	s.logger.Info("自动连接设备成功", zap.String("device", s.cfg.Serial.Port))
}

// shutdown 优雅关闭：HTTP -> 设备 -> 数据库
func (s *Server) shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
		firstErr = errors.Wrap(err, errors.ErrTimeout, "关闭超时")
	}

	if err := s.ctrl.Disconnect(ctx); err != nil {
		s.logger.Warn("断开设备失败", zap.Error(err))
	}

	if s.db != nil {
		if err := database.CloseDB(s.db); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}
	return firstErr
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("SDM-3000 出钞机控制服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
