package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// QuestionType 是允许出题的题型。
type QuestionType string

const (
	TermDefinition QuestionType = "TERM_DEFINITION"
	FillBlank      QuestionType = "FILL_BLANK"
	ShortAnswer    QuestionType = "SHORT_ANSWER"
)

// Valid 报告题型是否属于允许的集合。
func (t QuestionType) Valid() bool {
	switch t {
	case TermDefinition, FillBlank, ShortAnswer:
		return true
	}
	return false
}

// Question 是生成的一道题。
type Question struct {
	QuestionType     QuestionType `json:"question_type"`
	Content          string       `json:"content"`
	CorrectAnswer    string       `json:"correct_answer"`
	ChapterReference string       `json:"chapter_reference"`
}

// FlexibleID 同时接受 JSON 数字和字符串形式的 ID。
// 调用方经常混用 1 和 "1"，统一规范化为字符串键。
type FlexibleID string

// UnmarshalJSON 实现 json.Unmarshaler。
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(NormalizeID(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(NormalizeID(n.String()))
	return nil
}

// MarshalJSON 对纯整数 ID 输出数字，其它输出字符串。
func (id FlexibleID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// NormalizeID 把 " 1 "、"1"、"1.0" 规范化为同一个键 "1"。
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// GradeQuestion 是待批改的题目。
type GradeQuestion struct {
	ID            FlexibleID `json:"id" binding:"required"`
	Content       string     `json:"content"`
	CorrectAnswer string     `json:"correct_answer"`
}

// StudentAnswer 是学生作答。
type StudentAnswer struct {
	QuestionID    FlexibleID `json:"question_id" binding:"required"`
	StudentAnswer string     `json:"student_answer"`
}

// GradingResult 是单题批改结果。
type GradingResult struct {
	QuestionID      FlexibleID `json:"question_id"`
	QuestionContent string     `json:"question_content"`
	CorrectAnswer   string     `json:"correct_answer"`
	StudentAnswer   string     `json:"student_answer"`
	IsCorrect       bool       `json:"is_correct"`
	Feedback        string     `json:"feedback"`
	// Fallback 为 true 表示模型判定失败，使用了字符串比较。
	Fallback bool `json:"fallback"`
}
