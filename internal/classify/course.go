// Package classify 提供两个基于文件名的启发式分类引擎：课程归属识别和文件类别识别。
// 两者都是纯函数，不做任何 I/O。
package classify

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"course-intake/internal/model"
)

const (
	// CourseThreshold 是课程识别结果被采信的最低置信度。
	CourseThreshold = 30

	scoreCode          = 40
	scoreNameWords     = 30
	scoreProfessor     = 20
	scoreSubjectHit    = 5
	scoreSubjectCap    = 20
	scoreTerm          = 10
	defaultSuggestions = 3
)

// Match 是一次分类的结果，Confidence 总在 [0,100] 之间。
type Match struct {
	TargetID   string   `json:"targetId"`
	Confidence int      `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// subjectKeywords 以课程名中的子串为键，给出该学科在文件名中常见的关键词。
var subjectKeywords = []struct {
	subject  string
	keywords []string
}{
	{"computer", []string{"algorithm", "programming", "code", "software", "python", "java", "database", "recursion"}},
	{"math", []string{"calculus", "algebra", "equation", "theorem", "proof", "integral", "matrix", "derivative"}},
	{"physics", []string{"mechanics", "quantum", "thermodynamics", "kinematics", "momentum", "energy", "optics"}},
	{"chemistry", []string{"organic", "reaction", "molecule", "compound", "periodic", "stoichiometry"}},
	{"biology", []string{"cell", "genetics", "evolution", "organism", "ecology", "protein"}},
	{"history", []string{"revolution", "century", "empire", "civilization", "dynasty"}},
	{"economics", []string{"market", "supply", "demand", "inflation", "macro", "micro"}},
	{"literature", []string{"essay", "novel", "poetry", "shakespeare", "literary"}},
	{"english", []string{"essay", "grammar", "poetry", "rhetoric"}},
	{"psychology", []string{"behavior", "cognitive", "memory", "perception"}},
}

var (
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
	codeParts     = regexp.MustCompile(`^([a-z]+)([0-9]+[a-z]?)$`)
	honorifics    = map[string]bool{"dr": true, "prof": true, "professor": true, "mr": true, "mrs": true, "ms": true}
	codeSeparator = []string{"", "-", "_", " "}
)

// DetectCourseFromFile 返回文件名最可能归属的课程，最高分低于阈值时返回 nil。分数相同时保留列表中靠前的课程。
func DetectCourseFromFile(fileName string, courses []model.Course) *Match {
	var best *Match
	for _, c := range courses {
		m := scoreCourse(fileName, c)
		if best == nil || m.Confidence > best.Confidence {
			best = &m
		}
	}
	if best == nil || best.Confidence < CourseThreshold {
		return nil
	}
	return best
}

// GetCourseSuggestions 返回得分大于 0 的前 limit 个课程，不受阈值限制，用于“你是不是想找”提示。
func GetCourseSuggestions(fileName string, courses []model.Course, limit int) []Match {
	if limit <= 0 {
		limit = defaultSuggestions
	}
	matches := make([]Match, 0, len(courses))
	for _, c := range courses {
		if m := scoreCourse(fileName, c); m.Confidence > 0 {
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func scoreCourse(fileName string, c model.Course) Match {
	lower := strings.ToLower(fileName)
	spaced := " " + strings.TrimSpace(nonAlnum.ReplaceAllString(lower, " ")) + " "
	m := Match{TargetID: c.ID, Reasons: []string{}}
	score := 0

	if code := codeVariantIn(lower, c.Code); code != "" {
		score += scoreCode
		m.Reasons = append(m.Reasons, fmt.Sprintf("Course code %s found in filename", c.Code))
	}

	words := significantWords(c.Name)
	if len(words) > 0 {
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > 0 {
			score += int(math.Round(float64(hits) / float64(len(words)) * scoreNameWords))
			m.Reasons = append(m.Reasons, fmt.Sprintf("Matched %d/%d course name words", hits, len(words)))
		}
	}

	for _, tok := range professorTokens(c.Professor) {
		if strings.Contains(spaced, " "+tok+" ") {
			score += scoreProfessor
			m.Reasons = append(m.Reasons, fmt.Sprintf("Professor name %q found in filename", tok))
			break
		}
	}

	if hits := subjectHits(lower, c.Name); hits > 0 {
		bonus := hits * scoreSubjectHit
		if bonus > scoreSubjectCap {
			bonus = scoreSubjectCap
		}
		score += bonus
		m.Reasons = append(m.Reasons, fmt.Sprintf("Matched %d subject keywords", hits))
	}

	if term := strings.ToLower(strings.TrimSpace(c.Term)); term != "" && strings.Contains(lower, term) {
		score += scoreTerm
		m.Reasons = append(m.Reasons, fmt.Sprintf("Term %s found in filename", c.Term))
	}

	m.Confidence = clamp(score)
	return m
}

// codeVariantIn 检查课程代码的几种分隔写法（无、-、_、空格）是否出现在文件名中，返回命中的写法。
func codeVariantIn(lowerName, code string) string {
	compact := nonAlnum.ReplaceAllString(strings.ToLower(code), "")
	if compact == "" {
		return ""
	}
	parts := codeParts.FindStringSubmatch(compact)
	if parts == nil {
		if strings.Contains(lowerName, compact) {
			return compact
		}
		return ""
	}
	for _, sep := range codeSeparator {
		variant := parts[1] + sep + parts[2]
		if strings.Contains(lowerName, variant) {
			return variant
		}
	}
	return ""
}

func significantWords(name string) []string {
	var words []string
	for _, w := range strings.Fields(nonAlnum.ReplaceAllString(strings.ToLower(name), " ")) {
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

func professorTokens(professor string) []string {
	var tokens []string
	for _, t := range strings.Fields(nonAlnum.ReplaceAllString(strings.ToLower(professor), " ")) {
		if len(t) < 3 || honorifics[t] {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

func subjectHits(lowerName, courseName string) int {
	lowerCourse := strings.ToLower(courseName)
	seen := make(map[string]bool)
	for _, s := range subjectKeywords {
		if !strings.Contains(lowerCourse, s.subject) {
			continue
		}
		for _, kw := range s.keywords {
			if !seen[kw] && strings.Contains(lowerName, kw) {
				seen[kw] = true
			}
		}
	}
	return len(seen)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
