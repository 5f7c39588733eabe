package classify

import (
	"regexp"
	"strings"
)

// Category 是文件的用途类别。
type Category string

const (
	CategoryLecture    Category = "lecture"
	CategoryAssignment Category = "assignment"
	CategoryExam       Category = "exam"
	CategoryNotes      Category = "notes"
	CategoryOther      Category = "other"
)

const (
	confidencePattern = 90
	confidenceKeyword = 70
)

type categoryRule struct {
	category Category
	patterns []*regexp.Regexp
	keywords []string
}

// categoryRules 按顺序匹配，先命中者胜出，顺序不可调整。
var categoryRules = []categoryRule{
	{
		category: CategoryLecture,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\blec(ture)?\s*\d+`),
			regexp.MustCompile(`\bweek\s*\d+`),
			regexp.MustCompile(`\bslides?\b`),
		},
		keywords: []string{"lecture", "slides", "lesson", "presentation"},
	},
	{
		category: CategoryAssignment,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(hw|homework)\s*\d*\b`),
			regexp.MustCompile(`\bassignment\s*\d*`),
			regexp.MustCompile(`\b(ps|pset)\s*\d+\b`),
			regexp.MustCompile(`\bproject\b`),
		},
		keywords: []string{"assignment", "homework", "problem set", "exercise", "lab report"},
	},
	{
		category: CategoryExam,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(midterm|final)\b`),
			regexp.MustCompile(`\bexam\s*\d*`),
			regexp.MustCompile(`\bquiz\s*\d*`),
		},
		keywords: []string{"exam", "midterm", "quiz", "past paper", "practice test"},
	},
	{
		category: CategoryNotes,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bnotes?\b`),
			regexp.MustCompile(`\bsummary\b`),
		},
		keywords: []string{"notes", "summary", "cheat sheet", "study guide", "review"},
	},
}

var separators = regexp.MustCompile(`[_\-.]+`)

// CategoryMatch 说明类别识别命中了哪条规则。
type CategoryMatch struct {
	Category   Category `json:"category"`
	Confidence int      `json:"confidence"`
	Rule       string   `json:"rule,omitempty"`
}

// CategorizeFile 返回文件名对应的类别，没有任何规则命中时返回 other。
func CategorizeFile(fileName string) Category {
	return ExplainCategory(fileName).Category
}

// ExplainCategory 与 CategorizeFile 使用同一张规则表，并返回命中的规则。
func ExplainCategory(fileName string) CategoryMatch {
	name := normalizeForCategory(fileName)
	for _, r := range categoryRules {
		for _, p := range r.patterns {
			if p.MatchString(name) {
				return CategoryMatch{Category: r.category, Confidence: confidencePattern, Rule: "pattern " + p.String()}
			}
		}
		for _, kw := range r.keywords {
			if strings.Contains(name, kw) {
				return CategoryMatch{Category: r.category, Confidence: confidenceKeyword, Rule: "keyword " + kw}
			}
		}
	}
	return CategoryMatch{Category: CategoryOther}
}

// normalizeForCategory 去掉扩展名，转小写，并把 _ - . 统一替换为空格。
func normalizeForCategory(fileName string) string {
	name := strings.ToLower(fileName)
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return strings.TrimSpace(separators.ReplaceAllString(name, " "))
}
