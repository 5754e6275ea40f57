package testutils

import (
	"encoding/json"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// MustJSON marshals v or panics
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAsserter compares JSON documents structurally. By default keys
// present only in the actual document are ignored.
type JSONAsserter struct {
	t               TestingT
	ignoreExtraKeys bool
}

// NewJSONAsserter creates a JSONAsserter that ignores extra actual keys
func NewJSONAsserter(t TestingT) *JSONAsserter {
	return &JSONAsserter{t: t, ignoreExtraKeys: true}
}

// Strict makes extra keys in the actual document a failure
func (ja *JSONAsserter) Strict() *JSONAsserter {
	ja.ignoreExtraKeys = false
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	ja.t.Helper()

	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		ja.t.Errorf("expected JSON is invalid: %v\n%s", err, expectedJSON)
		return false
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		ja.t.Errorf("actual JSON is invalid: %v\n%s", err, actualJSON)
		return false
	}
	if ja.ignoreExtraKeys {
		actual = pruneExtraKeys(actual, expected)
	}

	left, _ := json.Marshal(expected)
	right, _ := json.Marshal(actual)
	diff, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		ja.t.Errorf("JSON comparison failed: %v", err)
		return false
	}
	if !diff.Modified() {
		return true
	}

	var out string
	if m, ok := expected.(map[string]any); ok {
		out, _ = formatter.NewAsciiFormatter(m, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	} else {
		out, _ = formatter.NewDeltaFormatter().Format(diff)
	}
	ja.t.Errorf("JSON assertion failed:\n%s", out)
	return false
}

// pruneExtraKeys drops object keys of actual that expected does not have
func pruneExtraKeys(actual, expected any) any {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return actual
		}
		pruned := make(map[string]any, len(e))
		for k, ev := range e {
			if av, ok := a[k]; ok {
				pruned[k] = pruneExtraKeys(av, ev)
			}
		}
		return pruned
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return actual
		}
		pruned := make([]any, len(a))
		for i := range a {
			pruned[i] = pruneExtraKeys(a[i], e[i])
		}
		return pruned
	default:
		return actual
	}
}
