package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newBufLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetFormatter(recordFormatter{})
	l.SetOutput(&buf)
	l.SetLevel(logrus.InfoLevel)
	return &Logger{l: l}, &buf
}

func TestRecordFormatOrdersFieldsAlphabeticallyExcludingUsername(t *testing.T) {
	lg, buf := newBufLogger(t)
	lg.Record("queue", "alice", Fields{"zeta": "1", "alpha": "2"})

	line := strings.TrimSpace(buf.String())
	parts := strings.Split(line, "|")
	require.Equal(t, "queue", parts[1])
	require.Equal(t, "alice", parts[2])
	require.Equal(t, "alpha=2", parts[3])
	require.Equal(t, "zeta=1", parts[4])
}

func TestRecordKeepsEmptyUsernameField(t *testing.T) {
	lg, buf := newBufLogger(t)
	lg.Trigger("immediate")

	line := strings.TrimSpace(buf.String())
	parts := strings.Split(line, "|")
	require.Equal(t, "trigger", parts[1])
	require.Equal(t, "", parts[2])
	require.Equal(t, "name=immediate", parts[3])
}

func TestResolveOutputPrefersFileOverStdout(t *testing.T) {
	dir := t.TempDir()
	lg, err := New(Destination{LogPath: "evcron.log", LogHome: dir})
	require.NoError(t, err)
	require.NotNil(t, lg)
}

func TestDoneRecordIncludesChainKind(t *testing.T) {
	lg, buf := newBufLogger(t)
	lg.Done("alice", "000000000000abcd", "/b", "next")

	line := strings.TrimSpace(buf.String())
	require.Contains(t, line, "kind=next")
	require.Contains(t, line, "nextevents=/b")
}
