package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/retry"

	"golang.org/x/sync/errgroup"
)

const (
	contextSnippetRunes = 500
	maxContentRunes     = 200
	maxAnswerRunes      = 100
	unknownChapter      = "출처 미상"
	untitledChapter     = "제목 없음"
	correctFeedback     = "정답입니다!"
)

// QuizService 基于教材集合出题并批改学生答案。
type QuizService interface {
	Generate(ctx context.Context, documentID string, count int) ([]model.Question, error)
	Grade(ctx context.Context, questions []model.GradeQuestion, answers []model.StudentAnswer) ([]model.GradingResult, error)
}

type quizService struct {
	models    *provider.Services
	retrieval RetrieverBuilder
	cfg       config.QuizConfig
	// sleep 为 nil 时真实等待，测试中替换。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQuizService 创建一个新的 QuizService 实例。
func NewQuizService(models *provider.Services, builder RetrieverBuilder, cfg config.QuizConfig) QuizService {
	if cfg.RetrievalAttempts <= 0 {
		cfg.RetrievalAttempts = 3
	}
	if cfg.RetrievalDelay <= 0 {
		cfg.RetrievalDelay = 2 * time.Second
	}
	if cfg.GradingConcurrency <= 0 {
		cfg.GradingConcurrency = 4
	}
	return &quizService{models: models, retrieval: builder, cfg: cfg}
}

func (s *quizService) Generate(ctx context.Context, documentID string, count int) ([]model.Question, error) {
	if count <= 0 {
		return nil, errs.New(errs.EmptyInput, "题目数量必须为正数")
	}
	client, err := s.models.LLM()
	if err != nil {
		return nil, err
	}

	log.Infof("[QuizService] 步骤1: 检索文档 %s 的代表性内容, k=%d", documentID, count*3)
	chunks, err := s.sample(ctx, documentID, count*3)
	if err != nil {
		return nil, err
	}

	limit := count * 2
	if limit > len(chunks) {
		limit = len(chunks)
	}
	parts := make([]string, 0, limit)
	for _, c := range chunks[:limit] {
		title := c.Meta.Title
		if title == "" {
			title = untitledChapter
		}
		parts = append(parts, fmt.Sprintf("[출처: %s]\n%s", title, truncateRunes(c.Text, contextSnippetRunes)))
	}

	log.Infof("[QuizService] 步骤2: 请求模型生成 %d 道题", count)
	raw, err := client.Chat(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: quizSystemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf(quizUserPrompt, count, strings.Join(parts, "\n\n---\n\n"))},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用模型出题失败: %w", err)
	}

	log.Info("[QuizService] 步骤3: 解析并校验题目")
	questions, err := parseQuestions(raw)
	if err != nil {
		return nil, err
	}
	if len(questions) < count/2 {
		return nil, errs.New(errs.InsufficientQuestions, "有效题目过少 (生成: %d, 请求: %d)", len(questions), count).
			With("generated", len(questions)).
			With("requested", count)
	}
	if len(questions) > count {
		questions = questions[:count]
	}
	log.Infof("[QuizService] 出题完成, documentID: %s, 共 %d 道", documentID, len(questions))
	return questions, nil
}

// sample 在固定间隔内重试检索，集合尚未就绪或检索为空时重试。
func (s *quizService) sample(ctx context.Context, documentID string, k int) ([]model.ScoredChunk, error) {
	var chunks []model.ScoredChunk
	var lastErr error
	policy := retry.Policy{
		MaxAttempts: s.cfg.RetrievalAttempts,
		Delay:       s.cfg.RetrievalDelay,
		ShouldRetry: func(err error) bool { return errs.Is(err, errs.CollectionNotFound) },
		OnRetry: func(attempt int, err error) {
			log.Warnf("[QuizService] 第 %d 次检索失败, %s 后重试: %v", attempt, s.cfg.RetrievalDelay, err)
		},
		Sleep: s.sleep,
	}
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := s.retrieval.Build(ctx, documentID)
		if err != nil {
			lastErr = err
			return err
		}
		got, err := r.SimilaritySearch(ctx, quizSampleQuery, k)
		if err != nil {
			lastErr = err
			return err
		}
		if len(got) == 0 {
			lastErr = errs.New(errs.CollectionNotFound, "文档 %s 中没有可用内容", documentID)
			return lastErr
		}
		chunks = got
		return nil
	})
	if err != nil {
		if errs.Is(err, errs.RetryExhausted) && lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	log.Infof("[QuizService] 检索到 %d 个分块", len(chunks))
	return chunks, nil
}

type rawQuestion struct {
	QuestionType     *string `json:"question_type"`
	Content          *string `json:"content"`
	CorrectAnswer    *string `json:"correct_answer"`
	ChapterReference string  `json:"chapter_reference"`
}

// parseQuestions 解析模型输出的 JSON 数组，丢弃字段缺失或题型非法的题目。
func parseQuestions(raw string) ([]model.Question, error) {
	content := stripFences(raw)
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		log.Errorf("[QuizService] JSON 解析失败, 模型输出: %s", content)
		return nil, errs.Wrap(errs.GenerationParseFailed, err, "模型输出无法解析为 JSON 数组").
			With("output", truncateRunes(content, 200))
	}

	out := make([]model.Question, 0, len(items))
	for i, item := range items {
		var q rawQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			log.Warnf("[QuizService] 跳过第 %d 题: 格式错误", i+1)
			continue
		}
		if q.QuestionType == nil || q.Content == nil || q.CorrectAnswer == nil {
			log.Warnf("[QuizService] 跳过第 %d 题: 缺少必填字段", i+1)
			continue
		}
		qt := model.QuestionType(*q.QuestionType)
		if !qt.Valid() {
			log.Warnf("[QuizService] 跳过第 %d 题: 非法题型 %q", i+1, *q.QuestionType)
			continue
		}
		ref := q.ChapterReference
		if ref == "" {
			ref = unknownChapter
		}
		out = append(out, model.Question{
			QuestionType:     qt,
			Content:          truncateRunes(*q.Content, maxContentRunes),
			CorrectAnswer:    truncateRunes(*q.CorrectAnswer, maxAnswerRunes),
			ChapterReference: ref,
		})
	}
	return out, nil
}

func (s *quizService) Grade(ctx context.Context, questions []model.GradeQuestion, answers []model.StudentAnswer) ([]model.GradingResult, error) {
	client, err := s.models.LLM()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.GradeQuestion, len(questions))
	for _, q := range questions {
		byID[string(q.ID)] = q
	}

	log.Infof("[QuizService] 开始批改 %d 份答案", len(answers))
	slots := make([]*model.GradingResult, len(answers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.GradingConcurrency)
	for i, ans := range answers {
		q, ok := byID[string(ans.QuestionID)]
		if !ok {
			log.Warnf("[QuizService] 找不到题目 ID %s, 跳过", ans.QuestionID)
			continue
		}
		i, ans := i, ans
		g.Go(func() error {
			res := gradeOne(gctx, client, q, ans)
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]model.GradingResult, 0, len(answers))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	log.Infof("[QuizService] 批改完成, 共 %d 题", len(results))
	return results, nil
}

type verdict struct {
	IsCorrect *bool   `json:"is_correct"`
	Feedback  *string `json:"feedback"`
}

// gradeOne 用模型判定单题，任何失败都退化为去空格、小写后的字符串比较。
func gradeOne(ctx context.Context, client llm.Client, q model.GradeQuestion, ans model.StudentAnswer) model.GradingResult {
	res := model.GradingResult{
		QuestionID:      q.ID,
		QuestionContent: q.Content,
		CorrectAnswer:   q.CorrectAnswer,
		StudentAnswer:   ans.StudentAnswer,
	}

	raw, err := client.Chat(ctx, []llm.Message{
		{Role: model.RoleSystem, Content: gradingSystemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf(gradingUserPrompt, q.Content, q.CorrectAnswer, ans.StudentAnswer)},
	}, nil)
	if err == nil {
		var v verdict
		if err = json.Unmarshal([]byte(stripFences(raw)), &v); err == nil {
			if v.IsCorrect != nil && v.Feedback != nil {
				res.IsCorrect = *v.IsCorrect
				res.Feedback = *v.Feedback
				return res
			}
			err = fmt.Errorf("判定结果缺少字段")
		}
	}

	log.Warnf("[QuizService] 题目 %s 模型批改失败, 使用字符串比较: %v", q.ID, err)
	res.Fallback = true
	res.IsCorrect = normalizeAnswer(ans.StudentAnswer) == normalizeAnswer(q.CorrectAnswer)
	if res.IsCorrect {
		res.Feedback = correctFeedback
	} else {
		res.Feedback = fmt.Sprintf("오답입니다. 정답은 '%s'입니다.", q.CorrectAnswer)
	}
	return res
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
