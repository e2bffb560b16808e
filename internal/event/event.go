// Package event implements the event model and load pipeline:
// parsing, include expansion, early substitution, template detection,
// bitmask compilation, and the required-field check.
package event

import (
	"path"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/evcron/evcron/internal/calendar"
	"github.com/evcron/evcron/internal/snapshot"
	"github.com/evcron/evcron/internal/subst"
)

// RejectReason classifies why an event is ineligible for matching, or
// RejectNone if it is eligible.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectCannotLoad       RejectReason = "cannot load file"
	RejectCannotInclude    RejectReason = "cannot process include(s)"
	RejectBadDefinition    RejectReason = "bad definition"
	RejectBadSubstitution  RejectReason = "bad variable substitution"
	RejectTemplate         RejectReason = "template"
	RejectBadWhen          RejectReason = "bad when_* setting"
	RejectMaxEventsReached RejectReason = "maximum events reached"
	RejectUnknown          RejectReason = "unknown problem"
)

// RejectMissingField builds the parameterized "missing field" reason.
func RejectMissingField(name string) RejectReason {
	return RejectReason("not fully specified, missing field " + name)
}

// KV is one (key, value) assignment, order-preserved as read from the
// event body (duplicates are legal; later occurrences shadow earlier
// ones when building the substitution variable map).
type KV struct {
	Key   string
	Value string
}

var whenFields = []calendar.Field{
	calendar.Year, calendar.Month, calendar.Day,
	calendar.Hour, calendar.Minute, calendar.DOW,
}

// requiredFieldSet holds struct-tag-validated presence markers for
// every field an event must assign: a field holds "1" if the
// corresponding key was assigned (regardless of its value), "" if it
// was never assigned. Declaration order is the fixed required-field
// order, so the first validation failure maps back to the first
// missing field in that order.
type requiredFieldSet struct {
	AsUser        string `validate:"required"`
	Host          string `validate:"required"`
	Command       string `validate:"required"`
	NotifyEmail   string `validate:"required"`
	NotifyMessage string `validate:"required"`
	WhenMonth     string `validate:"required"`
	WhenDay       string `validate:"required"`
	WhenHour      string `validate:"required"`
	WhenMinute    string `validate:"required"`
	WhenDow       string `validate:"required"`
}

var requiredFieldNames = map[string]string{
	"AsUser":        "as_user",
	"Host":          "host",
	"Command":       "command",
	"NotifyEmail":   "notify_email",
	"NotifyMessage": "notify_message",
	"WhenMonth":     "when_month",
	"WhenDay":       "when_day",
	"WhenHour":      "when_hour",
	"WhenMinute":    "when_minute",
	"WhenDow":       "when_dow",
}

var fieldValidator = validator.New()

func presenceMarker(present map[string]struct{}, key string) string {
	if _, ok := present[key]; ok {
		return "1"
	}
	return ""
}

// Event is a fully parsed (possibly rejected) scheduled unit.
type Event struct {
	Name        string
	Username    string
	Assignments []KV
	Schedule    calendar.Compiled
	HasSchedule bool
	Reject      RejectReason
	WhenString  string
}

// Accepted reports whether the event is eligible for matching.
func (e Event) Accepted() bool { return e.Reject == RejectNone }

// Get returns the last assignment for key, if any.
func (e Event) Get(key string) (string, bool) {
	val, ok := "", false
	for _, kv := range e.Assignments {
		if kv.Key == key {
			val, ok = kv.Value, true
		}
	}
	return val, ok
}

// Vars returns the substituted assignment map plus the seed, as it
// stood at the end of early substitution -- the basis for late
// substitution in §4.11.
func (e Event) Vars(seed subst.Vars) subst.Vars {
	out := make(subst.Vars, len(seed)+len(e.Assignments))
	for k, v := range seed {
		out[k] = v
	}
	for _, kv := range e.Assignments {
		out[kv.Key] = kv.Value
	}
	return out
}

const maxIncludeDepth = 3

// Load runs the full per-event pipeline: line
// normalization, include expansion, assignment parsing, early
// substitution, template detection, when-compilation, and the
// required-field check. body is the raw event file content; tree
// supplies include targets; seed is the early-substitution variable
// seed (when_year=*, template_name=null, HCRON_HOST_NAME,
// HCRON_EVENT_NAME, ...).
func Load(name, username string, body []byte, tree snapshot.Tree, seed subst.Vars) Event {
	ev := Event{Name: name, Username: username}

	lines, err := expandIncludes(normalizeLines(string(body)), name, tree, 0)
	if err != nil {
		ev.Reject = RejectCannotInclude
		return ev
	}

	assignments, ok := parseAssignments(lines)
	if !ok {
		ev.Reject = RejectBadDefinition
		return ev
	}

	vars := make(subst.Vars, len(seed)+len(assignments)+1)
	for k, v := range seed {
		vars[k] = v
	}
	vars["HCRON_EVENT_NAME"] = name
	for i, kv := range assignments {
		substituted := subst.Evaluate(kv.Value, vars)
		assignments[i].Value = substituted
		vars[kv.Key] = substituted
	}
	ev.Assignments = assignments

	if tn, ok := vars["template_name"]; ok && tn == path.Base(name) {
		ev.Reject = RejectTemplate
		return ev
	}

	schedule, whenStr, err := compileSchedule(vars)
	if err != nil {
		ev.Reject = RejectBadWhen
		return ev
	}
	ev.Schedule = schedule
	ev.HasSchedule = true
	ev.WhenString = whenStr

	present := map[string]struct{}{}
	for _, kv := range assignments {
		present[kv.Key] = struct{}{}
	}
	check := requiredFieldSet{
		AsUser:        presenceMarker(present, "as_user"),
		Host:          presenceMarker(present, "host"),
		Command:       presenceMarker(present, "command"),
		NotifyEmail:   presenceMarker(present, "notify_email"),
		NotifyMessage: presenceMarker(present, "notify_message"),
		WhenMonth:     presenceMarker(present, "when_month"),
		WhenDay:       presenceMarker(present, "when_day"),
		WhenHour:      presenceMarker(present, "when_hour"),
		WhenMinute:    presenceMarker(present, "when_minute"),
		WhenDow:       presenceMarker(present, "when_dow"),
	}
	if err := fieldValidator.Struct(check); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok || len(verrs) == 0 {
			ev.Reject = RejectUnknown
			return ev
		}
		ev.Reject = RejectMissingField(requiredFieldNames[verrs[0].StructField()])
		return ev
	}

	return ev
}

func compileSchedule(vars subst.Vars) (calendar.Compiled, string, error) {
	values := make(map[calendar.Field]string, len(whenFields))
	for _, f := range whenFields {
		if v, ok := vars[f.String()]; ok && v != "" {
			values[f] = v
		} else {
			values[f] = "*"
		}
	}

	var compiled calendar.Compiled
	for _, f := range whenFields {
		mask, err := calendar.Compile(f, values[f])
		if err != nil {
			return calendar.Compiled{}, "", err
		}
		compiled[f] = mask
	}

	parts := make([]string, 0, len(whenFields))
	for _, f := range whenFields {
		parts = append(parts, f.String()+"="+values[f])
	}
	return compiled, strings.Join(parts, ","), nil
}

// normalizeLines discards comment lines and joins backslash
// continuations. The join happens before the comment check so a
// comment line's trailing backslash still pulls in the next physical
// line, unconditionally.
func normalizeLines(body string) []string {
	raw := strings.Split(body, "\n")

	var joined []string
	var cur strings.Builder
	continuing := false
	for _, line := range raw {
		if !continuing {
			cur.Reset()
		}
		cur.WriteString(line)
		continuing = false

		text := cur.String()
		trimmedRight := strings.TrimRight(text, " \t\r")
		if strings.HasSuffix(trimmedRight, "\\") {
			cur.Reset()
			cur.WriteString(trimmedRight[:len(trimmedRight)-1])
			continuing = true
			continue
		}
		joined = append(joined, text)
	}

	out := make([]string, 0, len(joined))
	for _, l := range joined {
		s := strings.TrimSpace(l)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out
}

func expandIncludes(lines []string, callerName string, tree snapshot.Tree, depth int) ([]string, error) {
	if depth > maxIncludeDepth {
		return nil, errDepthExceeded
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		rest, ok := strings.CutPrefix(line, "include ")
		if !ok {
			out = append(out, line)
			continue
		}
		target := ResolveName(strings.TrimSpace(rest), callerName)
		body, ok := tree[target]
		if !ok {
			return nil, errIncludeNotFound
		}
		expanded, err := expandIncludes(normalizeLines(string(body)), target, tree, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func parseAssignments(lines []string) ([]KV, bool) {
	out := make([]KV, 0, len(lines))
	for _, line := range lines {
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, false
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			return nil, false
		}
		out = append(out, KV{Key: key, Value: strings.TrimSpace(line[idx+1:])})
	}
	return out, true
}

// ResolveName resolves a next/failover/include reference against the
// caller's location: absolute references (leading "/") pass through;
// relative ones resolve against dirname(caller).
func ResolveName(ref, callerName string) string {
	if strings.HasPrefix(ref, "/") {
		return path.Clean(ref)
	}
	return path.Clean(path.Join(path.Dir(callerName), ref))
}

type loadError string

func (e loadError) Error() string { return string(e) }

const (
	errDepthExceeded  = loadError("include depth exceeded")
	errIncludeNotFound = loadError("include target not found")
)

// SortedNames returns tree keys in a deterministic order, used to
// process a user's events reproducibly (e.g. for max-events-per-user
// overflow selection).
func SortedNames(tree snapshot.Tree) []string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
