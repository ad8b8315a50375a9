package analysis

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Repair extracts a JSON object from model output that may be wrapped in
// code fences or prose, quoted as a JSON string, or carry trailing commas.
// It returns false when no valid object can be recovered.
func Repair(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(s), &unquoted); err == nil {
			s = strings.TrimSpace(unquoted)
		}
	}
	s = stripFences(s)

	obj, ok := firstObject(s)
	if !ok {
		return "", false
	}
	obj = removeTrailingCommas(obj)
	if !gjson.Valid(obj) {
		return "", false
	}
	return obj, true
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// firstObject returns the first balanced {...} in s, ignoring braces inside
// string literals.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// removeTrailingCommas drops commas that directly precede a closing
// bracket, outside string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// decode reads a ProblemAnalysis leniently: numbers may arrive as strings
// and lists as comma-separated text.
func decode(obj string) (ProblemAnalysis, bool) {
	r := gjson.Parse(obj)
	if !r.IsObject() {
		return ProblemAnalysis{}, false
	}
	a := ProblemAnalysis{
		QuestionText: strings.TrimSpace(r.Get("question_text").String()),
		GradeLevel:   strings.TrimSpace(r.Get("grade_level").String()),
		Difficulty:   clampDifficulty(r.Get("difficulty")),
		KeyNumbers:   stringList(r.Get("key_numbers")),
		KeyRelation:  strings.TrimSpace(r.Get("key_relation").String()),
		FinalAnswer:  strings.TrimSpace(r.Get("final_answer").String()),
		Questions:    stringList(r.Get("questions")),
	}
	if a.QuestionText == "" {
		return ProblemAnalysis{}, false
	}
	return a, true
}

func clampDifficulty(v gjson.Result) int {
	var d int
	switch v.Type {
	case gjson.Number:
		d = int(v.Int())
	case gjson.String:
		d, _ = strconv.Atoi(strings.TrimSpace(v.Str))
	}
	if d < 1 {
		return 1
	}
	if d > 5 {
		return 5
	}
	return d
}

func stringList(v gjson.Result) []string {
	out := []string{}
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.String:
		for _, part := range strings.FieldsFunc(v.Str, func(r rune) bool { return r == ',' || r == '，' || r == '、' }) {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case v.Type == gjson.Number:
		out = append(out, v.Raw)
	}
	return out
}
