package questions

import (
	"context"
	"errors"
	"strings"
)

// ErrKitNotFound 题库中没有该套题
var ErrKitNotFound = errors.New("questions: kit not found")

// Answer 选项或文本答案；TextType 为 2 时只要作答包含该文本即算正确
type Answer struct {
	ID       string `json:"_id"`
	Text     string `json:"text"`
	Correct  bool   `json:"correct,omitempty"`
	TextType int    `json:"textType,omitempty"`
}

// Question 类型为 mc（选择题）或 text（填空题）
type Question struct {
	ID      string   `json:"_id"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Answers []Answer `json:"answers"`
}

// IsCorrect 选择题按答案 id 判定，填空题按文本判定
func (q Question) IsCorrect(answered string) bool {
	if q.Type == "mc" {
		for _, a := range q.Answers {
			if a.ID == answered {
				return a.Correct
			}
		}
		return false
	}
	for _, a := range q.Answers {
		if a.TextType == 2 {
			if strings.Contains(answered, a.Text) {
				return true
			}
		} else if answered == a.Text {
			return true
		}
	}
	return false
}

// Source 题目来源
type Source interface {
	Questions(ctx context.Context, kitID string) ([]Question, error)
}

// Demo 未配置套题或加载失败时使用的示例题
func Demo() []Question {
	return []Question{{
		ID:   "demo_question",
		Text: "Sample question: select the correct answer.",
		Type: "mc",
		Answers: []Answer{
			{ID: "correct_answer", Text: "Correct Answer", Correct: true},
			{ID: "incorrect_answer_1", Text: "Incorrect Answer 1"},
			{ID: "incorrect_answer_2", Text: "Incorrect Answer 2"},
			{ID: "incorrect_answer_3", Text: "Incorrect Answer 3"},
		},
	}}
}

// Fetch 加载套题，失败或结果为空时退回示例题；返回的 error 仅供记录
func Fetch(ctx context.Context, src Source, kitID string) ([]Question, error) {
	if kitID == "" || src == nil {
		return Demo(), nil
	}
	qs, err := src.Questions(ctx, kitID)
	if err != nil {
		return Demo(), err
	}
	if len(qs) == 0 {
		return Demo(), nil
	}
	return qs, nil
}
