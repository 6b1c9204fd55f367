package dom

import (
	"strings"
	"testing"

	"github.com/jaywee92/Slack-Attendance-Bot/internal/browser"
	"github.com/jaywee92/Slack-Attendance-Bot/internal/locator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryExpression_EmbedsQuery(t *testing.T) {
	q := locator.Query{
		Selector: "label",
		Text:     locator.PatternText(`(?i)^\W*present\b`),
		Leaf:     true,
		Within:   Handle("m1-0"),
	}
	expr, err := QueryExpression(q, "tok")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(expr, "((spec) =>"))
	assert.Contains(t, expr, `"token":"tok"`)
	assert.Contains(t, expr, `"mode":"pattern"`)
	assert.Contains(t, expr, `"leaf":true`)
	assert.Contains(t, expr, `"within":"[data-attn-mark~=\"m1-0\"]"`)
	assert.NotContains(t, expr, `"role"`)
}

func TestQueryExpression_RejectsBadPattern(t *testing.T) {
	_, err := QueryExpression(locator.Query{Text: locator.PatternText("(")}, "tok")
	assert.Error(t, err)
}

func TestNewToken_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := NewToken()
		assert.Len(t, tok, 13)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestDecodeResult(t *testing.T) {
	raw := map[string]interface{}{
		"elements": []interface{}{
			map[string]interface{}{"mark": "t-0", "text": "Present", "visible": true, "enabled": true},
			map[string]interface{}{"mark": "t-1", "text": "Present", "visible": false, "enabled": true, "checked": true, "inFrame": true},
		},
	}
	r, err := DecodeResult(raw)
	require.NoError(t, err)
	set, err := r.MatchSet()
	require.NoError(t, err)

	require.Equal(t, 2, set.Count())
	last, ok := set.MostRecent()
	require.True(t, ok)
	assert.Equal(t, 1, last.Index)
	assert.Equal(t, `[data-attn-mark~="t-1"]`, last.Handle)
	assert.True(t, last.Checked)
	assert.True(t, last.InFrame)
	assert.Equal(t, 1, set.Visible().Count())
}

func TestResult_SelectorError(t *testing.T) {
	_, err := Result{Error: "bad selector: x"}.MatchSet()
	assert.ErrorIs(t, err, ErrBadSelector)
}

func TestForceExpressions_QuoteHandles(t *testing.T) {
	h := Handle("abc-2")
	click := ForceClickExpression(h)
	assert.Contains(t, click, `"[data-attn-mark~=\"abc-2\"]"`)
	assert.Contains(t, click, "el.click()")
	assert.Contains(t, ForceCheckExpression(h), "dispatchEvent(new Event('change'")
}

func TestRestoreLocalStorageScript(t *testing.T) {
	script, err := RestoreLocalStorageScript(nil)
	require.NoError(t, err)
	assert.Empty(t, script)

	script, err = RestoreLocalStorageScript([]browser.OriginState{{
		Origin:       "https://app.slack.com",
		LocalStorage: []browser.NameValue{{Name: "localConfig_v2", Value: `{"teams":{}}`}},
	}})
	require.NoError(t, err)
	assert.Contains(t, script, `"origin":"https://app.slack.com"`)
	assert.Contains(t, script, "localStorage.getItem(item.name) === null")
}
