package beads

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/beadhub/internal/httperr"
)

func TestParseJSONL_Basic(t *testing.T) {
	body := []byte(`{"id":"bh-1","title":"First","status":"open","priority":1}
{"id":"bh-2","title":"Second","status":"in_progress","issue_type":"bug"}

{"id":"bh-3","title":"Third","parent_id":{"repo":"core","branch":"main","bead_id":"bh-1"}}`)

	issues, err := ParseJSONL(body)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, "bh-1", issues[0].ID)
	assert.Equal(t, "in_progress", issues[1].Status)
	assert.Equal(t, "bug", issues[1].IssueType)
	require.NotNil(t, issues[2].Parent)
	assert.Equal(t, "bh-1", issues[2].Parent.BeadID)
}

func TestParseJSONL_NormalizesEnums(t *testing.T) {
	issues, err := ParseJSONL([]byte(`{"id":"bh-1","status":"bogus","issue_type":"nope"}`))
	require.NoError(t, err)
	assert.Equal(t, "open", issues[0].Status)
	assert.Equal(t, "task", issues[0].IssueType)
	assert.NotNil(t, issues[0].Labels)
	assert.NotNil(t, issues[0].BlockedBy)
}

func TestParseJSONL_BodySizeBoundary(t *testing.T) {
	line := []byte(`{"id":"bh-1","title":"x"}` + "\n")
	pad := bytes.Repeat([]byte(" "), MaxBodyBytes-len(line))
	exact := append(append([]byte{}, line...), pad...)
	require.Len(t, exact, MaxBodyBytes)

	_, err := ParseJSONL(exact)
	assert.NoError(t, err)

	_, err = ParseJSONL(append(exact, ' '))
	require.Error(t, err)
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 400, status)
}

func TestParseJSONL_EntryCountBoundary(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxEntries; i++ {
		fmt.Fprintf(&b, `{"id":"bh-%d"}`+"\n", i)
	}
	issues, err := ParseJSONL([]byte(b.String()))
	require.NoError(t, err)
	assert.Len(t, issues, MaxEntries)

	fmt.Fprintf(&b, `{"id":"bh-extra"}`+"\n")
	_, err = ParseJSONL([]byte(b.String()))
	require.Error(t, err)
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 400, status)
}

func TestParseJSONL_DepthBoundary(t *testing.T) {
	// The entry object itself is one level, so depth 10 means nine
	// nested values inside it.
	nested := func(levels int) string {
		return strings.Repeat(`{"a":`, levels) + `1` + strings.Repeat(`}`, levels)
	}
	ok := `{"id":"bh-1","meta":` + nested(9) + `}`
	_, err := ParseJSONL([]byte(ok))
	assert.NoError(t, err)

	tooDeep := `{"id":"bh-1","meta":` + nested(10) + `}`
	_, err = ParseJSONL([]byte(tooDeep))
	require.Error(t, err)
	status, detail := httperr.StatusOf(err)
	assert.Equal(t, 400, status)
	assert.Contains(t, detail, "nesting depth")
}

func TestParseJSONL_Rejections(t *testing.T) {
	_, err := ParseJSONL([]byte(`not json`))
	require.Error(t, err)
	status, _ := httperr.StatusOf(err)
	assert.Equal(t, 400, status)

	_, err = ParseJSONL([]byte(`{"title":"missing id"}`))
	require.Error(t, err)
	status, _ = httperr.StatusOf(err)
	assert.Equal(t, 400, status)
}

func TestStructuralDepth(t *testing.T) {
	assert.Equal(t, 1, structuralDepth(`{"a":1}`))
	assert.Equal(t, 2, structuralDepth(`{"a":[1,2]}`))
	assert.Equal(t, 3, structuralDepth(`{"a":{"b":[1]}}`))
	// Brackets inside strings do not count.
	assert.Equal(t, 1, structuralDepth(`{"a":"{[{["}`))
	assert.Equal(t, 1, structuralDepth(`{"a":"esc\"{\""}`))
}

func TestEncodeJSONLRoundTrip(t *testing.T) {
	in := []Issue{
		{ID: "bh-1", Title: "One", Status: "open", IssueType: "task", Labels: []string{"x"}, BlockedBy: []Ref{}},
	}
	data, err := EncodeJSONL(in)
	require.NoError(t, err)
	out, err := ParseJSONL(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% done`, escapeLike(`50% done`))
	assert.Equal(t, `a\_b`, escapeLike(`a_b`))
	assert.Equal(t, `c\\d`, escapeLike(`c\d`))
}
