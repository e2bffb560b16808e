package event

import (
	"testing"

	"github.com/evcron/evcron/internal/snapshot"
	"github.com/evcron/evcron/internal/subst"
	"github.com/stretchr/testify/require"
)

func seedFor(eventName string) subst.Vars {
	return subst.Vars{
		"when_year":       "*",
		"template_name":   "",
		"HCRON_HOST_NAME": "host.example.com",
		"HCRON_EVENT_NAME": eventName,
	}
}

const validBody = `as_user=deploy
host=worker1
command=/bin/true
notify_email=ops@example.com
notify_message=done
when_month=*
when_day=*
when_hour=*
when_minute=0
when_dow=*
`

func TestLoadAcceptsWellFormedEvent(t *testing.T) {
	ev := Load("/grp/a", "alice", []byte(validBody), snapshot.Tree{}, seedFor("/grp/a"))
	require.True(t, ev.Accepted())
	require.True(t, ev.HasSchedule)
	cmd, ok := ev.Get("command")
	require.True(t, ok)
	require.Equal(t, "/bin/true", cmd)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	body := "as_user=deploy\nhost=worker1\ncommand=/bin/true\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.False(t, ev.Accepted())
	require.Equal(t, RejectMissingField("notify_email"), ev.Reject)
}

func TestLoadRejectsMissingRequiredFieldLaterInOrder(t *testing.T) {
	body := "as_user=deploy\nhost=worker1\ncommand=/bin/true\nnotify_email=a@b.com\nnotify_message=m\nwhen_day=*\nwhen_hour=*\nwhen_minute=*\nwhen_dow=*\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.False(t, ev.Accepted())
	require.Equal(t, RejectMissingField("when_month"), ev.Reject)
}

func TestLoadTrimsLeadingSpaceFromAssignmentValue(t *testing.T) {
	body := "as_user=deploy\nhost= worker1\ncommand=/bin/true\nnotify_email=ops@example.com\n" +
		"notify_message=done\nwhen_month=*\nwhen_day=*\nwhen_hour=*\nwhen_minute=*\nwhen_dow=*\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.True(t, ev.Accepted())
	host, ok := ev.Get("host")
	require.True(t, ok)
	require.Equal(t, "worker1", host)
}

func TestLoadRejectsBadDefinitionLine(t *testing.T) {
	body := "this is not an assignment\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.Equal(t, RejectBadDefinition, ev.Reject)
}

func TestLoadRejectsBadWhenSetting(t *testing.T) {
	body := validBody + "when_minute=99\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.Equal(t, RejectBadWhen, ev.Reject)
}

func TestLoadDetectsTemplateByBasename(t *testing.T) {
	body := "template_name=a\n" + validBody
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.Equal(t, RejectTemplate, ev.Reject)
	// assignments are still retained for a rejected template.
	require.NotEmpty(t, ev.Assignments)
}

func TestLoadJoinsBackslashContinuations(t *testing.T) {
	body := "command=/bin/echo \\\nhello\n" + "as_user=deploy\nhost=worker1\nnotify_email=a@b.com\nnotify_message=m\nwhen_month=*\nwhen_day=*\nwhen_hour=*\nwhen_minute=*\nwhen_dow=*\n"
	ev := Load("/grp/a", "alice", []byte(body), snapshot.Tree{}, seedFor("/grp/a"))
	require.True(t, ev.Accepted())
	cmd, _ := ev.Get("command")
	require.Equal(t, "/bin/echo hello", cmd)
}

func TestLoadExpandsIncludeRelativeToCaller(t *testing.T) {
	tree := snapshot.Tree{
		"/grp/common": []byte("command=/bin/true\nas_user=deploy\nhost=worker1\nnotify_email=a@b.com\nnotify_message=m\nwhen_month=*\nwhen_day=*\nwhen_hour=*\nwhen_minute=*\nwhen_dow=*\n"),
	}
	body := "include common\n"
	ev := Load("/grp/a", "alice", []byte(body), tree, seedFor("/grp/a"))
	require.True(t, ev.Accepted())
}

func TestLoadRejectsIncludeCycleBeyondMaxDepth(t *testing.T) {
	tree := snapshot.Tree{
		"/grp/a": []byte("include b\n"),
		"/grp/b": []byte("include a\n"),
	}
	ev := Load("/grp/a", "alice", tree["/grp/a"], tree, seedFor("/grp/a"))
	require.Equal(t, RejectCannotInclude, ev.Reject)
}

func TestResolveNameRelativeAndAbsolute(t *testing.T) {
	require.Equal(t, "/grp/common", ResolveName("common", "/grp/a"))
	require.Equal(t, "/shared/common", ResolveName("/shared/common", "/grp/a"))
}
