package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/handler"
	"dodream-rag-go/internal/middleware"
	"dodream-rag-go/internal/repository"
	"dodream-rag-go/internal/retrieval"
	"dodream-rag-go/internal/service"
	"dodream-rag-go/pkg/database"
	"dodream-rag-go/pkg/kafka"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API（默认同时启动入库 worker）",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Conf, withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "workers", true, "同时在本进程内运行入库 worker")
	return cmd
}

func serve(cfg config.Config, withWorkers bool) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. 初始化存储与模型
	c, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := repository.AutoMigrate(db); err != nil {
		return fmt.Errorf("迁移聊天表失败: %w", err)
	}
	taskRepo, err := newTaskRepository(ctx, cfg)
	if err != nil {
		return err
	}
	verifier, err := token.NewVerifier(cfg.JWT.Secret, cfg.JWT.SecretBase64, cfg.JWT.Issuer)
	if err != nil {
		return err
	}

	// 2. 初始化 Service (依赖注入)
	builder := retrieval.NewBuilder(c.models, c.store, cfg.Retrieval)
	chains := service.NewChainFactory(c.models, builder)
	chatService := service.NewChatService(chains, repository.NewChatRepository(db))
	quizService := service.NewQuizService(c.models, builder, cfg.Quiz)
	producer := kafka.NewProducer(cfg.Kafka, taskRepo)
	defer producer.Close()

	// 3. 启动后台 Kafka 消费者
	workerErr := make(chan error, 1)
	if withWorkers {
		go func() { workerErr <- c.newRunner(taskRepo).Run(ctx) }()
	}

	// 4. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r, verifier, handler.Handlers{
		RAG:  handler.NewRAGHandler(producer, taskRepo),
		Chat: handler.NewChatHandler(chatService),
		Quiz: handler.NewQuizHandler(quizService),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("接收到停机信号，正在关闭服务...")
	case err := <-workerErr:
		if err != nil {
			log.Errorf("入库 worker 异常退出: %v", err)
		}
		stop()
	}

	// 设置一个5秒的超时上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP 服务器关闭失败: %w", err)
	}
	log.Info("服务已优雅关闭")
	return nil
}

// signalContext 返回在 SIGINT/SIGTERM 时取消的上下文。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
