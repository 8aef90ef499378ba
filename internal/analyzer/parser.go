package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrEmptyOutput 模型输出为空
	ErrEmptyOutput = errors.New("model output is empty")
	// ErrNotJSON 模型输出不是单个JSON对象
	ErrNotJSON = errors.New("model output is not a single JSON object")
	// ErrTrailingContent JSON对象之后还有其他内容
	ErrTrailingContent = errors.New("unexpected content after JSON object")
)

var outputValidate = validator.New()

// Output 模型的结构化输出
type Output struct {
	Found           bool            `json:"found"`
	Summary         string          `json:"summary" validate:"required_if=Found true"`
	SourceText      string          `json:"source_text"`
	Citation        *OutputCitation `json:"citation" validate:"required_if=Found true"`
	Issues          []string        `json:"issues"`
	Recommendations []string        `json:"recommendations"`
	Confidence      string          `json:"confidence" validate:"omitempty,oneof=high medium low none"`
}

// OutputCitation 模型给出的引用
// Source 是提示词中来源的编号，从1开始
type OutputCitation struct {
	Source  int    `json:"source" validate:"gte=1"`
	Page    int    `json:"page" validate:"gte=0"`
	Section string `json:"section"`
}

// ParseOutput 严格解析模型输出
// 只接受一个JSON对象，外面最多包一层 ```json 代码块，不允许未知字段
func ParseOutput(text string) (*Output, error) {
	body, err := unfence(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var out Output
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode model output: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingContent
	}

	// 未找到时忽略模型附带的引用
	if !out.Found {
		out.Citation = nil
	}
	if err := outputValidate.Struct(&out); err != nil {
		return nil, fmt.Errorf("invalid model output: %w", err)
	}

	out.Summary = strings.TrimSpace(out.Summary)
	out.SourceText = strings.TrimSpace(out.SourceText)
	out.Issues = cleanList(out.Issues)
	out.Recommendations = cleanList(out.Recommendations)
	if out.Found && out.Summary == "" {
		return nil, fmt.Errorf("invalid model output: empty summary")
	}
	return &out, nil
}

// unfence 去掉可选的代码块标记
func unfence(text string) (string, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", ErrEmptyOutput
	}
	if strings.HasPrefix(s, "```") {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return "", ErrNotJSON
		}
		lang := strings.TrimSpace(s[3:nl])
		if lang != "" && lang != "json" {
			return "", ErrNotJSON
		}
		if !strings.HasSuffix(s, "```") || len(s) < nl+4 {
			return "", ErrNotJSON
		}
		s = strings.TrimSpace(s[nl+1 : len(s)-3])
	}
	if !strings.HasPrefix(s, "{") {
		return "", ErrNotJSON
	}
	return s, nil
}

// cleanList 去掉空白项，nil 转为空切片
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
