package subst

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLiteralIdempotence(t *testing.T) {
	require.False(t, HasReferences("plain text, no refs"))
	require.Equal(t, "plain text, no refs", Evaluate("plain text, no refs", Vars{}))
}

func TestSimpleValueAndCount(t *testing.T) {
	vars := Vars{"HOST": "example.com"}
	require.Equal(t, "example.com", Evaluate("$HOST", vars))
	require.Equal(t, "1", Evaluate("#HOST", vars))

	vars["LIST"] = "a:b:c"
	require.Equal(t, "3", Evaluate("#LIST", vars))
}

func TestMissingNameLeftVerbatim(t *testing.T) {
	require.Equal(t, "$MISSING", Evaluate("$MISSING", Vars{}))
}

func TestEventNameLastSegment(t *testing.T) {
	vars := Vars{"HCRON_EVENT_NAME": "/grp/sub/a"}
	require.Equal(t, "a", Evaluate("$HCRON_EVENT_NAME[-1]", vars))
}

func TestEventNameSegmentCountIncludesLeadingEmpty(t *testing.T) {
	vars := Vars{"HCRON_EVENT_NAME": "/grp/sub/a"}
	require.Equal(t, "4", Evaluate("#HCRON_EVENT_NAME[]", vars))
}

func TestIndexedSegments(t *testing.T) {
	vars := Vars{"HCRON_EVENT_NAME": "/grp/sub/a"}
	require.Equal(t, "grp/sub", Evaluate("$HCRON_EVENT_NAME[1,2]", vars))
}

func TestGlobSelect(t *testing.T) {
	vars := Vars{"NAMES": "alpha:beta:gamma"}
	require.Equal(t, "alpha:gamma", Evaluate("$NAMES{a*,g*}", vars))
}

func TestSeparatorOverride(t *testing.T) {
	vars := Vars{"CSV": "1,2,3"}
	require.Equal(t, "2", Evaluate("$CSV[,!1]", vars))
}

func TestMalformedSelectorLeftVerbatim(t *testing.T) {
	in := "$NAME[unterminated"
	require.Equal(t, in, Evaluate(in, Vars{}))
}
