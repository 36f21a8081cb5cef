package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/retry"
	"dodream-rag-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

const maxErrorLen = 500

// Handler 执行一个任务并返回结果负载。
type Handler func(ctx context.Context, env tasks.Envelope) (any, error)

type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Runner 从 Kafka 消费任务，在 worker 内按重试策略执行，并把状态写入 StatusStore。
// offset 只在任务进入终态后提交，进程崩溃时任务会被重新投递。
type Runner struct {
	cfg      config.KafkaConfig
	handlers map[string]Handler
	store    StatusStore
	policy   retry.Policy
}

// NewRunner 创建 Runner。
func NewRunner(cfg config.KafkaConfig, store StatusStore, policy retry.Policy) *Runner {
	return &Runner{cfg: cfg, handlers: make(map[string]Handler), store: store, policy: policy}
}

// Register 为任务名注册处理函数。
func (r *Runner) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Run 启动 cfg.Workers 个同组消费者，阻塞直到 ctx 取消或某个消费者出错。
func (r *Runner) Run(ctx context.Context) error {
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  strings.Split(r.cfg.Brokers, ","),
				Topic:    r.cfg.Topic,
				GroupID:  r.cfg.GroupID,
				MinBytes: 1,
				MaxBytes: 10e6, // 10MB
			})
			log.Infof("Kafka 消费者 #%d 已启动，正在监听主题 '%s'", worker, r.cfg.Topic)
			return r.consume(ctx, reader)
		})
	}
	return g.Wait()
}

func (r *Runner) consume(ctx context.Context, src messageSource) error {
	defer func() {
		if err := src.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		log.Infof("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

		var env tasks.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
		} else {
			status := r.Execute(ctx, env)
			if ctx.Err() != nil && !status.State.Terminal() {
				// 关闭过程中被中断：不提交，重启后重新投递
				return nil
			}
		}

		if err := src.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// Execute 执行单个任务直到终态（或 ctx 取消），返回最后写入的状态。
func (r *Runner) Execute(ctx context.Context, env tasks.Envelope) tasks.Status {
	status := tasks.Status{ID: env.ID, Name: env.Name, State: tasks.Started, Attempt: 1}
	r.save(ctx, status)

	handler, ok := r.handlers[env.Name]
	if !ok {
		status.State = tasks.Failure
		status.Error = fmt.Sprintf("未知任务: %s", env.Name)
		status.ErrorKind = string(errs.Internal)
		r.save(ctx, status)
		return status
	}

	policy := r.policy
	policy.OnRetry = func(attempt int, err error) {
		log.Warnf("[Runner] 任务 %s 第 %d 次尝试失败, %s 后重试: %v", env.ID, attempt, policy.Delay, err)
		r.save(ctx, tasks.Status{
			ID:        env.ID,
			Name:      env.Name,
			State:     tasks.Retry,
			Attempt:   attempt + 1,
			Error:     errs.Snippet(err, maxErrorLen),
			ErrorKind: string(errs.KindOf(err)),
		})
	}

	var result any
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		status.Attempt = attempt
		res, err := handler(ctx, env)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			log.Warnf("[Runner] 任务 %s 因关闭被中断", env.ID)
			return status
		}
		status.State = tasks.Failure
		status.Error = errs.Snippet(err, maxErrorLen)
		status.ErrorKind = string(errs.KindOf(err))
		log.Errorf("[Runner] 任务失败: id=%s, name=%s, attempt=%d, error=%v", env.ID, env.Name, status.Attempt, err)
		r.save(ctx, status)
		return status
	}

	payload, mErr := json.Marshal(result)
	if mErr != nil {
		log.Errorf("[Runner] 序列化任务结果失败: %v", mErr)
	} else {
		status.Result = payload
	}
	status.State = tasks.Success
	log.Infof("[Runner] 任务成功: id=%s, name=%s, attempt=%d", env.ID, env.Name, status.Attempt)
	r.save(ctx, status)
	return status
}

func (r *Runner) save(ctx context.Context, status tasks.Status) {
	status.UpdatedAt = time.Now()
	// 终态必须落盘，即使 ctx 已取消
	if status.State.Terminal() {
		ctx = context.Background()
	}
	if err := r.store.Save(ctx, status); err != nil {
		log.Errorf("[Runner] 保存任务状态失败: id=%s, state=%s, error=%v", status.ID, status.State, err)
	}
}
