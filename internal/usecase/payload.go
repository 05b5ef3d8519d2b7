package usecase

import (
	"encoding/json"
	"path"
	"regexp"
	"strconv"
	"strings"

	"omnicoder/internal/domain/model"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// jsonObject is a decoded top-level object whose fields are read one at a time, so a
// mistyped field falls back to its stage default without discarding its siblings.
type jsonObject map[string]json.RawMessage

// decodeObject tries a ```json fenced block first, then the widest {...} span. ok is false
// when neither holds a JSON object.
func decodeObject(text string) (jsonObject, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		var o jsonObject
		if json.Unmarshal([]byte(m[1]), &o) == nil && o != nil {
			return o, true
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var o jsonObject
		if json.Unmarshal([]byte(text[start:end+1]), &o) == nil && o != nil {
			return o, true
		}
	}
	return nil, false
}

func (o jsonObject) raw(key string) (json.RawMessage, bool) {
	v, ok := o[key]
	if !ok || len(v) == 0 || string(v) == "null" {
		return nil, false
	}
	return v, true
}

// str accepts a string, a number or bool (as written) or an array of strings (joined by
// newlines).
func (o jsonObject) str(key string) (string, bool) {
	v, ok := o.raw(key)
	if !ok {
		return "", false
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s, true
	}
	if list, ok := o.strs(key); ok {
		return strings.Join(list, "\n"), true
	}
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String(), true
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return strconv.FormatBool(b), true
	}
	return "", false
}

// boolean accepts true/false or their string spellings ("false", "0", "no").
func (o jsonObject) boolean(key string) (bool, bool) {
	v, ok := o.raw(key)
	if !ok {
		return false, false
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b, true
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// number accepts a JSON number or a numeric string.
func (o jsonObject) number(key string) (float64, bool) {
	v, ok := o.raw(key)
	if !ok {
		return 0, false
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return f, true
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// strs accepts an array (non-string elements are dropped) or a single string.
func (o jsonObject) strs(key string) ([]string, bool) {
	v, ok := o.raw(key)
	if !ok {
		return nil, false
	}
	var elems []json.RawMessage
	if json.Unmarshal(v, &elems) == nil {
		out := make([]string, 0, len(elems))
		for _, e := range elems {
			var s string
			if json.Unmarshal(e, &s) == nil {
				out = append(out, s)
			}
		}
		return out, true
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return []string{s}, true
	}
	return nil, false
}

// objects returns the object elements of an array field; other elements are skipped.
func (o jsonObject) objects(key string) []jsonObject {
	v, ok := o.raw(key)
	if !ok {
		return nil
	}
	var elems []json.RawMessage
	if json.Unmarshal(v, &elems) != nil {
		return nil
	}
	out := make([]jsonObject, 0, len(elems))
	for _, e := range elems {
		var item jsonObject
		if json.Unmarshal(e, &item) == nil && item != nil {
			out = append(out, item)
		}
	}
	return out
}

func (o jsonObject) strOr(key, def string) string {
	if s, ok := o.str(key); ok {
		return s
	}
	return def
}

type rawFile struct {
	Path     string
	Content  string
	Action   string
	Language string
}

func readFiles(o jsonObject, key string) []rawFile {
	items := o.objects(key)
	out := make([]rawFile, 0, len(items))
	for _, f := range items {
		out = append(out, rawFile{
			Path:     f.strOr("path", ""),
			Content:  f.strOr("content", ""),
			Action:   f.strOr("action", ""),
			Language: f.strOr("language", ""),
		})
	}
	return out
}

// AuthorResult is the Author stage contract after defaults are applied.
type AuthorResult struct {
	IsCodingTask bool
	Summary      string
	Files        []model.FileEdit
	Commands     []string
	GitMessage   string
	Questions    *string
}

func parseAuthor(text string) AuthorResult {
	res := AuthorResult{
		IsCodingTask: true,
		Summary:      "code generated",
		Commands:     []string{},
	}
	o, ok := decodeObject(text)
	if !ok {
		return res
	}
	if b, ok := o.boolean("is_coding_task"); ok {
		res.IsCodingTask = b
	}
	if s, ok := o.str("summary"); ok && s != "" {
		res.Summary = s
	}
	res.Files = toEdits(readFiles(o, "files"), model.FileActionCreate)
	if cmds, ok := o.strs("commands"); ok {
		res.Commands = cmds
	}
	res.GitMessage = o.strOr("git_message", "")
	if q, ok := o.str("questions"); ok {
		res.Questions = &q
	}
	return res
}

type ReviewIssue struct {
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Line        *int   `json:"line,omitempty"`
	Description string `json:"description"`
	Fix         string `json:"fix,omitempty"`
}

type ReviewResult struct {
	Score   float64
	Passed  bool
	Issues  []ReviewIssue
	Summary string
}

const defaultReviewScore = 80

// parseReview applies the review defaults: missing score is 80, missing passed flag
// means score >= threshold.
func parseReview(text string, threshold int) ReviewResult {
	o, _ := decodeObject(text)
	score := float64(defaultReviewScore)
	if f, ok := o.number("score"); ok {
		score = f
	}
	passed := score >= float64(threshold)
	if b, ok := o.boolean("passed"); ok {
		passed = b
	}
	var issues []ReviewIssue
	for _, it := range o.objects("issues") {
		issue := ReviewIssue{
			Severity:    it.strOr("severity", "warning"),
			File:        it.strOr("file", ""),
			Description: it.strOr("description", ""),
			Fix:         it.strOr("fix", ""),
		}
		if n, ok := it.number("line"); ok {
			line := int(n)
			issue.Line = &line
		}
		issues = append(issues, issue)
	}
	return ReviewResult{Score: score, Passed: passed, Issues: issues, Summary: o.strOr("summary", "")}
}

func skippedReview() ReviewResult {
	return ReviewResult{Score: defaultReviewScore, Passed: true, Summary: "review skipped"}
}

func parseTests(text string) []model.FileEdit {
	o, _ := decodeObject(text)
	items := o.objects("test_files")
	out := make([]model.FileEdit, 0, len(items))
	for _, f := range items {
		p := f.strOr("path", "")
		if p == "" {
			continue
		}
		out = append(out, model.FileEdit{
			Path:     p,
			Content:  f.strOr("content", ""),
			Action:   model.FileActionCreate,
			Language: DetectLanguage(p),
		})
	}
	return out
}

func parseFix(text string) []model.FileEdit {
	o, _ := decodeObject(text)
	return toEdits(readFiles(o, "files"), model.FileActionModify)
}

func toEdits(in []rawFile, defaultAction model.FileAction) []model.FileEdit {
	out := make([]model.FileEdit, 0, len(in))
	for _, f := range in {
		if f.Path == "" {
			continue
		}
		action := model.FileAction(strings.ToLower(f.Action))
		switch action {
		case model.FileActionCreate, model.FileActionModify, model.FileActionDelete:
		default:
			action = defaultAction
		}
		lang := f.Language
		if lang == "" {
			lang = DetectLanguage(f.Path)
		}
		out = append(out, model.FileEdit{Path: f.Path, Content: f.Content, Action: action, Language: lang})
	}
	return out
}

var languageByExt = map[string]string{
	"ts":   "typescript",
	"tsx":  "typescriptreact",
	"js":   "javascript",
	"jsx":  "javascriptreact",
	"py":   "python",
	"json": "json",
	"html": "html",
	"css":  "css",
	"md":   "markdown",
	"sh":   "shell",
	"go":   "go",
}

// DetectLanguage infers a language tag from the file extension.
func DetectLanguage(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "plaintext"
}
