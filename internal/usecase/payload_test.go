package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicoder/internal/domain/model"
)

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		matched bool
		want    string
	}{
		{"fenced", "prefix\n```json\n{\"a\": \"1\"}\n```\nsuffix", true, "1"},
		{"bare braces", `sure: {"a": "2"} hope that helps`, true, "2"},
		{"invalid fence and invalid span", "```json\n{oops}\n``` then {\"a\": 3}", false, ""},
		{"nothing", "no json here", false, ""},
		{"broken", `{"a": }`, false, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, ok := decodeObject(tc.text)
			assert.Equal(t, tc.matched, ok)
			assert.Equal(t, tc.want, o.strOr("a", ""))
		})
	}
}

func TestParseAuthor_Defaults(t *testing.T) {
	res := parseAuthor("garbage")
	assert.True(t, res.IsCodingTask)
	assert.Empty(t, res.Files)
	assert.NotNil(t, res.Commands)

	res = parseAuthor(`{"files":[{"path":"src/a.py","content":"x=1","action":"weird"},{"path":"","content":"skip"}]}`)
	assert.True(t, res.IsCodingTask)
	assert.Equal(t, []model.FileEdit{{Path: "src/a.py", Content: "x=1", Action: model.FileActionCreate, Language: "python"}}, res.Files)
}

func TestParseReview_Threshold(t *testing.T) {
	assert.True(t, parseReview(`{"score": 70}`, 70).Passed)
	assert.False(t, parseReview(`{"score": 69}`, 70).Passed)
	assert.True(t, parseReview(`{"score": 10, "passed": true}`, 70).Passed, "explicit flag wins")
	assert.False(t, parseReview(`{"score": 95, "passed": false}`, 70).Passed)

	r := parseReview("not json", 70)
	assert.True(t, r.Passed)
	assert.Equal(t, float64(80), r.Score)
}

func TestParseFix_DefaultsToModify(t *testing.T) {
	edits := parseFix(`{"files":[{"path":"a.ts","content":"X"}]}`)
	assert.Equal(t, []model.FileEdit{{Path: "a.ts", Content: "X", Action: model.FileActionModify, Language: "typescript"}}, edits)
}

func TestDetectLanguage(t *testing.T) {
	for path, want := range map[string]string{
		"a.ts":       "typescript",
		"b.TSX":      "typescriptreact",
		"c.js":       "javascript",
		"d.jsx":      "javascriptreact",
		"run.sh":     "shell",
		"README.md":  "markdown",
		"Makefile":   "plaintext",
		"styles.css": "css",
	} {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestBuildPrompts(t *testing.T) {
	p := BuildAuthorPrompt("do it", "plan", nil)
	assert.Contains(t, p, "## Existing files\n(none)")

	p = BuildFixerPrompt(map[string]string{"b.ts": "B", "a.ts": "A"}, []string{"first", "second"})
	assert.Contains(t, p, "1. first\n2. second\n")
	assert.Contains(t, p, "--- a.ts ---\nA\n\n--- b.ts ---\nB")
}

func TestParseReview_MistypedFieldKeepsSiblings(t *testing.T) {
	r := parseReview(`{"score":30,"passed":false,"issues":[{"severity":"major","file":"a.ts","line":"12","description":"bad"}]}`, 70)
	assert.False(t, r.Passed)
	assert.Equal(t, float64(30), r.Score)
	require.Len(t, r.Issues, 1)
	require.NotNil(t, r.Issues[0].Line)
	assert.Equal(t, 12, *r.Issues[0].Line)
	assert.Equal(t, "bad", r.Issues[0].Description)

	r = parseReview(`{"score":"55","passed":"false","issues":"none"}`, 50)
	assert.Equal(t, float64(55), r.Score)
	assert.False(t, r.Passed, "string flag still counts")
	assert.Empty(t, r.Issues)

	r = parseReview(`{"score":{"value":90},"issues":[]}`, 70)
	assert.Equal(t, float64(defaultReviewScore), r.Score, "unusable score falls back to the default")
	assert.True(t, r.Passed)
}

func TestParseAuthor_MistypedFieldKeepsSiblings(t *testing.T) {
	res := parseAuthor(`{"is_coding_task":false,"questions":["Which DB?","Which ORM?"]}`)
	assert.False(t, res.IsCodingTask)
	require.NotNil(t, res.Questions)
	assert.Equal(t, "Which DB?\nWhich ORM?", *res.Questions)

	res = parseAuthor(`{"is_coding_task":"false","summary":"chat"}`)
	assert.False(t, res.IsCodingTask)
	assert.Equal(t, "chat", res.Summary)

	res = parseAuthor(`{"summary":42,"commands":"npm test","files":[{"path":"a.ts","content":"x"},"junk"]}`)
	assert.True(t, res.IsCodingTask)
	assert.Equal(t, "42", res.Summary)
	assert.Equal(t, []string{"npm test"}, res.Commands)
	assert.Equal(t, []model.FileEdit{{Path: "a.ts", Content: "x", Action: model.FileActionCreate, Language: "typescript"}}, res.Files)
}

func TestParseTests_SkipsUnusableEntries(t *testing.T) {
	edits := parseTests(`{"test_files":[{"path":"a.test.ts","content":"it()","covers":"a.ts"},{"content":"no path"},7]}`)
	assert.Equal(t, []model.FileEdit{{Path: "a.test.ts", Content: "it()", Action: model.FileActionCreate, Language: "typescript"}}, edits)
}
