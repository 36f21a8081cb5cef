package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/fake"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/retrieval"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bioDoc = `{"chapters":[
	{"id":1,"title":"세포","type":"content","content":"세포는 생명의 기본 단위이다."},
	{"id":2,"title":"광합성","type":"content","content":"광합성은 빛 에너지를 화학 에너지로 바꾼다."},
	{"id":3,"title":"호흡","type":"content","content":"세포 호흡은 포도당을 분해한다."}
]}`

func noSleep(context.Context, time.Duration) error { return nil }

func newQuiz(e *env) *quizService {
	svc := NewQuizService(e.models, retrieval.NewBuilder(e.models, e.store, config.RetrievalConfig{}), config.QuizConfig{}).(*quizService)
	svc.sleep = noSleep
	return svc
}

func questionsJSON(n int, qtype string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"question_type":%q,"content":"문제 %d","correct_answer":"정답 %d","chapter_reference":"세포"}`, qtype, i, i)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestGenerate_ReturnsAtMostCount(t *testing.T) {
	e := newEnv(func(msgs []llm.Message) (string, error) {
		return "```json\n" + questionsJSON(8, "FILL_BLANK") + "\n```", nil
	})
	e.ingest(t, "bio", bioDoc)

	got, err := newQuiz(e).Generate(context.Background(), "bio", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	for _, q := range got {
		assert.True(t, q.QuestionType.Valid())
	}

	call := e.llm.Calls[0]
	require.Len(t, call, 2)
	assert.Equal(t, quizSystemPrompt, call[0].Content)
	assert.Contains(t, call[1].Content, "**5개의 퀴즈**")
	assert.Contains(t, call[1].Content, "[출처: ")
	assert.Contains(t, call[1].Content, "\n\n---\n\n")
}

func TestGenerate_FiltersAndNormalizes(t *testing.T) {
	long := strings.Repeat("가", 250)
	reply := `[
		{"question_type":"TERM_DEFINITION","content":"` + long + `","correct_answer":"세포"},
		{"question_type":"ESSAY","content":"서술하시오","correct_answer":"x"},
		{"question_type":"SHORT_ANSWER","content":"필요한 기체는?"},
		{"question_type":"SHORT_ANSWER","content":"필요한 기체는?","correct_answer":"이산화탄소","chapter_reference":""}
	]`
	e := newEnv(func([]llm.Message) (string, error) { return reply, nil })
	e.ingest(t, "bio", bioDoc)

	got, err := newQuiz(e).Generate(context.Background(), "bio", 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, []rune(got[0].Content), maxContentRunes)
	assert.Equal(t, unknownChapter, got[0].ChapterReference)
	assert.Equal(t, model.ShortAnswer, got[1].QuestionType)
	assert.Equal(t, unknownChapter, got[1].ChapterReference)
}

func TestGenerate_InsufficientQuestions(t *testing.T) {
	e := newEnv(func([]llm.Message) (string, error) { return questionsJSON(4, "SHORT_ANSWER"), nil })
	e.ingest(t, "bio", bioDoc)

	_, err := newQuiz(e).Generate(context.Background(), "bio", 10)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InsufficientQuestions))

	// 10/2 = 5，正好 5 道时通过
	e.llm.Reply = func([]llm.Message) (string, error) { return questionsJSON(5, "SHORT_ANSWER"), nil }
	got, err := newQuiz(e).Generate(context.Background(), "bio", 10)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestGenerate_ParseFailure(t *testing.T) {
	e := newEnv(func([]llm.Message) (string, error) { return "퀴즈를 만들 수 없습니다", nil })
	e.ingest(t, "bio", bioDoc)

	_, err := newQuiz(e).Generate(context.Background(), "bio", 5)
	assert.True(t, errs.Is(err, errs.GenerationParseFailed))
}

type flakyBuilder struct {
	fails int32
	calls atomic.Int32
	next  RetrieverBuilder
}

func (b *flakyBuilder) Build(ctx context.Context, documentID string) (retrieval.Retriever, error) {
	if b.calls.Add(1) <= b.fails {
		return nil, errs.New(errs.CollectionNotFound, "아직 없음")
	}
	return b.next.Build(ctx, documentID)
}

func TestGenerate_RetriesRetrieval(t *testing.T) {
	e := newEnv(func([]llm.Message) (string, error) { return questionsJSON(5, "FILL_BLANK"), nil })
	e.ingest(t, "bio", bioDoc)
	b := &flakyBuilder{fails: 2, next: retrieval.NewBuilder(e.models, e.store, config.RetrievalConfig{})}

	svc := NewQuizService(e.models, b, config.QuizConfig{RetrievalAttempts: 3}).(*quizService)
	svc.sleep = noSleep
	got, err := svc.Generate(context.Background(), "bio", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.EqualValues(t, 3, b.calls.Load())

	// 全部失败时返回集合不存在，而不是重试耗尽
	_, err = newQuiz(e).Generate(context.Background(), "ghost", 5)
	assert.True(t, errs.Is(err, errs.CollectionNotFound))
}

func TestGrade_HonoursModelVerdict(t *testing.T) {
	verdicts := map[string]string{
		"사회문화현상": `{"is_correct": true, "feedback": "정답입니다!"}`,
		"가치중립성":  `{"is_correct": true, "feedback": "동의어로 인정합니다."}`,
		"개열성":    "```json\n{\"is_correct\": true, \"feedback\": \"사소한 오타입니다.\"}\n```",
		"자연 현상":  `{"is_correct": false, "feedback": "의미가 다릅니다."}`,
	}
	l := &fake.LLM{Reply: func(msgs []llm.Message) (string, error) {
		user := fake.LastUserContent(msgs)
		for ans, v := range verdicts {
			if strings.Contains(user, "학생 답안: "+ans+"\n") {
				return v, nil
			}
		}
		return "", fake.ErrScripted
	}}
	svc := NewQuizService(provider.Static(&fake.Embedder{}, l, nil), retrieval.NewBuilder(provider.Static(nil, nil, nil), vectorstore.NewMemory(), config.RetrievalConfig{}), config.QuizConfig{})

	questions := []model.GradeQuestion{
		{ID: "1", Content: "인간에 의해 발생하는 현상은?", CorrectAnswer: "사회문화 현상"},
		{ID: "2", Content: "사회 과학의 특징은?", CorrectAnswer: "몰가치성"},
		{ID: "3", Content: "자연 현상의 특징은?", CorrectAnswer: "개연성"},
		{ID: "4", Content: "인간이 만든 현상은?", CorrectAnswer: "사회문화 현상"},
	}
	answers := []model.StudentAnswer{
		{QuestionID: "1", StudentAnswer: "사회문화현상"},
		{QuestionID: "2", StudentAnswer: "가치중립성"},
		{QuestionID: "3", StudentAnswer: "개열성"},
		{QuestionID: "4", StudentAnswer: "자연 현상"},
	}
	got, err := svc.Grade(context.Background(), questions, answers)
	require.NoError(t, err)
	require.Len(t, got, 4)
	want := []bool{true, true, true, false}
	for i, r := range got {
		assert.Equal(t, answers[i].QuestionID, r.QuestionID)
		assert.Equal(t, want[i], r.IsCorrect, "question %s", r.QuestionID)
		assert.False(t, r.Fallback)
	}
	assert.Equal(t, "동의어로 인정합니다.", got[1].Feedback)
}

func TestGrade_FallbackIsolatedPerAnswer(t *testing.T) {
	l := &fake.LLM{Reply: func(msgs []llm.Message) (string, error) {
		user := fake.LastUserContent(msgs)
		switch {
		case strings.Contains(user, "문제: A"):
			return `{"is_correct": false, "feedback": "틀렸습니다."}`, nil
		case strings.Contains(user, "문제: B"):
			return "not json", nil
		default:
			return "", fake.ErrScripted
		}
	}}
	svc := NewQuizService(provider.Static(nil, l, nil), nil, config.QuizConfig{GradingConcurrency: 2})

	questions := []model.GradeQuestion{
		{ID: "1", Content: "A", CorrectAnswer: "광합성"},
		{ID: "2", Content: "B", CorrectAnswer: "Carbon Dioxide"},
		{ID: "3", Content: "C", CorrectAnswer: "엽록체"},
	}
	answers := []model.StudentAnswer{
		{QuestionID: "1", StudentAnswer: "광합성"},
		{QuestionID: "2", StudentAnswer: "carbondioxide"},
		{QuestionID: "3", StudentAnswer: "미토콘드리아"},
		{QuestionID: "99", StudentAnswer: "?"},
	}
	got, err := svc.Grade(context.Background(), questions, answers)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// 模型判定可解析时以模型为准，即使字符串完全一致
	assert.False(t, got[0].IsCorrect)
	assert.False(t, got[0].Fallback)

	assert.True(t, got[1].Fallback)
	assert.True(t, got[1].IsCorrect)
	assert.Equal(t, correctFeedback, got[1].Feedback)

	assert.True(t, got[2].Fallback)
	assert.False(t, got[2].IsCorrect)
	assert.Equal(t, "오답입니다. 정답은 '엽록체'입니다.", got[2].Feedback)
}

func TestGrade_ModelUnavailable(t *testing.T) {
	svc := NewQuizService(provider.Static(nil, nil, nil), nil, config.QuizConfig{})
	_, err := svc.Grade(context.Background(), nil, nil)
	assert.True(t, errs.Is(err, errs.ModelUnavailable))
}
