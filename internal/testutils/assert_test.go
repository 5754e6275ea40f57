package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserter(rec)

	assert.True(t, ta.Assert("a  \nb\n\n", "a\nb"), "trailing whitespace MUST be ignored by default")
	assert.Empty(t, rec.errors)

	assert.False(t, ta.Assert("a\nc", "a\nb"))
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "-b")
	assert.Contains(t, rec.errors[0], "+c")

	colored := NewTextAsserter(rec, WithEnableColors(true)).Diff("x y", "x")
	assert.Contains(t, colored, "x·y", "colored diff MUST show whitespace")

	assert.Empty(t, NewTextAsserter(rec, WithIgnoreEmptyLines(true)).Diff("a\n\nb", "a\nb"))
}

func TestJSONAsserter(t *testing.T) {
	rec := &recordingT{}

	assert.True(t, NewJSONAsserter(rec).Assert(`{"a":1,"b":{"c":2,"d":3}}`, `{"b":{"c":2},"a":1}`),
		"extra actual keys MUST be ignored by default")
	assert.False(t, NewJSONAsserter(rec).Strict().Assert(`{"a":1,"b":2}`, `{"a":1}`),
		"strict mode MUST report extra keys")
	assert.False(t, NewJSONAsserter(rec).Assert(`{"a":2}`, `{"a":1}`))
	assert.False(t, NewJSONAsserter(rec).Assert(`{`, `{}`))

	assert.Len(t, rec.errors, 3)
	assert.True(t, strings.Contains(rec.errors[2], "invalid"))
}
