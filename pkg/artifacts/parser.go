// Package artifacts extracts structured directives from free-form LLM
// response text. Responses interleave prose with a small tag grammar
// (<dyad-agent-*> tags) carrying analysis, plans, todo updates, logs,
// status, focus, and auto-advance directives.
//
// Parsing is best-effort and side-effect free: malformed payloads become
// warnings on the bundle, never errors, and one bad tag does not prevent
// other tags in the same response from being captured.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"agentflow/pkg/proto"
)

// Tag names understood by the parser, without the dyad-agent- prefix.
const (
	tagAnalysis   = "analysis"
	tagPlan       = "plan"
	tagTodoUpdate = "todo-update"
	tagLog        = "log"
	tagStatus     = "status"
	tagFocus      = "focus"
	tagAuto       = "auto"
	tagError      = "error"
)

//nolint:gochecknoglobals // Compiled once; the grammar is fixed.
var (
	knownTags = map[string]bool{
		tagAnalysis:   true,
		tagPlan:       true,
		tagTodoUpdate: true,
		tagLog:        true,
		tagStatus:     true,
		tagFocus:      true,
		tagAuto:       true,
		tagError:      true,
	}

	// Go's regexp has no backreferences, so each tag name gets its own
	// paired and self-closing pattern. The grammar is small enough that
	// this stays cheap and avoids backtracking blowups entirely.
	pairedRe      map[string]*regexp.Regexp
	selfClosingRe map[string]*regexp.Regexp

	anyTagRe  = regexp.MustCompile(`(?i)<dyad-agent-([a-z][a-z0-9-]*)`)
	attrRe    = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9_-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	versionRe = regexp.MustCompile(`^\d+$`)
)

//nolint:gochecknoinits // Compiles the fixed tag grammar.
func init() {
	pairedRe = make(map[string]*regexp.Regexp, len(knownTags))
	selfClosingRe = make(map[string]*regexp.Regexp, len(knownTags))
	for name := range knownTags {
		pairedRe[name] = regexp.MustCompile(
			`(?is)<dyad-agent-` + name + `((?:\s+[^>]*?)?)>(.*?)</dyad-agent-` + name + `\s*>`)
		selfClosingRe[name] = regexp.MustCompile(
			`(?is)<dyad-agent-` + name + `((?:\s+[^>]*?)?)/\s*>`)
	}
}

// match is one located tag occurrence, kept in source order so that
// order-sensitive consumers (the sanitizer, plan todos) see tags in the
// order the model emitted them.
type match struct {
	name  string
	attrs map[string]string
	body  string
	start int
}

// Parse extracts an artifact bundle from one LLM response. It never
// returns an error; all diagnostics accumulate in Bundle.Warnings.
func Parse(responseText string) *proto.ArtifactBundle {
	bundle := &proto.ArtifactBundle{}

	matches := scan(responseText)
	for i := range matches {
		dispatch(bundle, &matches[i])
	}

	reportUnknownTags(bundle, responseText)
	return bundle
}

// scan locates every known tag occurrence, paired first then
// self-closing, and returns them sorted by source position.
func scan(text string) []match {
	var out []match

	for name, re := range pairedRe {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			out = append(out, match{
				name:  name,
				attrs: parseAttrs(text[loc[2]:loc[3]]),
				body:  text[loc[4]:loc[5]],
				start: loc[0],
			})
		}
	}
	for name, re := range selfClosingRe {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			out = append(out, match{
				name:  name,
				attrs: parseAttrs(text[loc[2]:loc[3]]),
				start: loc[0],
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// parseAttrs splits key="value" pairs with single- and double-quote
// support. Keys are lowercased; tag grammar is case-insensitive.
func parseAttrs(raw string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(raw, -1) {
		key := strings.ToLower(m[1])
		value := m[2]
		if value == "" {
			value = m[3]
		}
		attrs[key] = value
	}
	return attrs
}

func dispatch(bundle *proto.ArtifactBundle, m *match) {
	switch m.name {
	case tagAnalysis:
		parseAnalysis(bundle, m)
	case tagPlan:
		parsePlan(bundle, m)
	case tagTodoUpdate:
		parseTodoUpdate(bundle, m)
	case tagLog:
		parseLog(bundle, m, false)
	case tagError:
		parseLog(bundle, m, true)
	case tagStatus:
		parseStatus(bundle, m)
	case tagFocus:
		bundle.Focus = &proto.FocusRequest{TodoID: strings.TrimSpace(m.attrs["todoid"])}
	case tagAuto:
		parseAuto(bundle, m)
	}
}

func parseAnalysis(bundle *proto.ArtifactBundle, m *match) {
	var analysis proto.Analysis
	if err := strictUnmarshal(m.body, &analysis); err != nil {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("analysis tag has malformed JSON payload: %v", err))
		return
	}

	ensureLists(&analysis)
	bundle.Analysis = &analysis
}

// ensureLists applies defaults for absent list fields so downstream code
// never sees nil slices on a validated analysis.
func ensureLists(a *proto.Analysis) {
	if a.Goals == nil {
		a.Goals = []string{}
	}
	if a.Constraints == nil {
		a.Constraints = []string{}
	}
	if a.AcceptanceCriteria == nil {
		a.AcceptanceCriteria = []string{}
	}
	if a.Risks == nil {
		a.Risks = []string{}
	}
	if a.Clarifications == nil {
		a.Clarifications = []string{}
	}
	if a.DyadTagRefs == nil {
		a.DyadTagRefs = []string{}
	}
}

func parsePlan(bundle *proto.ArtifactBundle, m *match) {
	var payload struct {
		Todos          []proto.TodoSpec `json:"todos"`
		DyadTagRefs    []string         `json:"dyadTagRefs"`
		DyadTagContext []string         `json:"dyadTagContext"`
	}
	if err := strictUnmarshal(m.body, &payload); err != nil {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("plan tag has malformed JSON payload: %v", err))
		return
	}

	plan := &proto.PlanSpec{
		Todos:          make([]proto.TodoSpec, 0, len(payload.Todos)),
		DyadTagRefs:    payload.DyadTagRefs,
		DyadTagContext: payload.DyadTagContext,
	}
	if plan.DyadTagRefs == nil {
		plan.DyadTagRefs = []string{}
	}
	if plan.DyadTagContext == nil {
		plan.DyadTagContext = []string{}
	}

	if raw, ok := m.attrs["version"]; ok {
		if versionRe.MatchString(strings.TrimSpace(raw)) {
			v, _ := strconv.Atoi(strings.TrimSpace(raw))
			plan.Version = &v
		} else {
			bundle.Warnings = append(bundle.Warnings,
				fmt.Sprintf("plan tag has non-numeric version %q", raw))
		}
	}

	// Source order defines execution order; drop only todos that cannot
	// be addressed at all.
	for i := range payload.Todos {
		todo := payload.Todos[i]
		if strings.TrimSpace(todo.TodoID) == "" {
			bundle.Warnings = append(bundle.Warnings,
				fmt.Sprintf("plan todo at position %d has no todoId", i))
			continue
		}
		if todo.Status != "" && !todo.Status.IsValid() {
			bundle.Warnings = append(bundle.Warnings,
				fmt.Sprintf("plan todo %s has invalid status %q", todo.TodoID, todo.Status))
			todo.Status = ""
		}
		if todo.Inputs == nil {
			todo.Inputs = []string{}
		}
		if todo.Outputs == nil {
			todo.Outputs = []string{}
		}
		if todo.DyadTagRefs == nil {
			todo.DyadTagRefs = []string{}
		}
		plan.Todos = append(plan.Todos, todo)
	}

	bundle.Plan = plan
}

func parseTodoUpdate(bundle *proto.ArtifactBundle, m *match) {
	update := proto.TodoUpdate{
		TodoID:      m.attrs["todoid"],
		DyadTagRefs: splitRefs(m.attrs["dyadtagrefs"]),
		Note:        strings.TrimSpace(m.body),
	}

	if raw, ok := m.attrs["status"]; ok && raw != "" {
		status := proto.TodoStatus(strings.ToLower(strings.TrimSpace(raw)))
		if status.IsValid() {
			update.Status = status
		} else {
			bundle.Warnings = append(bundle.Warnings,
				fmt.Sprintf("todo-update for %q has invalid status %q", update.TodoID, raw))
		}
	}

	bundle.TodoUpdates = append(bundle.TodoUpdates, update)
}

func parseLog(bundle *proto.ArtifactBundle, m *match, isError bool) {
	directive := proto.LogDirective{
		Type:        proto.LogSystem,
		TodoID:      firstNonEmpty(m.attrs["todoid"], m.attrs["todokey"]),
		Content:     strings.TrimSpace(m.body),
		DyadTagRefs: splitRefs(m.attrs["dyadtagrefs"]),
	}

	if !isError {
		if raw, ok := m.attrs["type"]; ok && raw != "" {
			logType := proto.LogType(strings.ToLower(strings.TrimSpace(raw)))
			if logType.IsValid() {
				directive.Type = logType
			} else {
				bundle.Warnings = append(bundle.Warnings,
					fmt.Sprintf("log tag has invalid type %q", raw))
			}
		} else {
			directive.Type = proto.LogExecution
		}

		// A JSON object body doubles as structured metadata.
		var metadata map[string]any
		if directive.Content != "" && json.Unmarshal([]byte(directive.Content), &metadata) == nil {
			directive.Metadata = metadata
		}
	}

	bundle.Logs = append(bundle.Logs, directive)
}

func parseStatus(bundle *proto.ArtifactBundle, m *match) {
	raw := m.attrs["state"]
	if raw == "" {
		raw = strings.TrimSpace(m.body)
	}
	if raw == "" {
		bundle.Warnings = append(bundle.Warnings, "status tag has no state")
		return
	}

	status := proto.WorkflowStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.IsValid() {
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("status tag has invalid state %q", raw))
		return
	}
	bundle.WorkflowStatus = &status
}

func parseAuto(bundle *proto.ArtifactBundle, m *match) {
	raw := m.attrs["enabled"]
	if raw == "" {
		raw = strings.TrimSpace(m.body)
	}

	enabled := false
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1":
		enabled = true
	case "false", "0", "":
		enabled = false
	default:
		// Field stays unset so a garbled value never flips the flag.
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("auto tag has unrecognized enabled value %q", raw))
		return
	}
	bundle.AutoAdvance = &enabled
}

// reportUnknownTags surfaces dyad-agent tags the grammar does not know.
// They are never fatal; the UI shows them as parse warnings.
func reportUnknownTags(bundle *proto.ArtifactBundle, text string) {
	seen := make(map[string]bool)
	for _, m := range anyTagRe.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if knownTags[name] || seen[name] {
			continue
		}
		seen[name] = true
		bundle.Warnings = append(bundle.Warnings,
			fmt.Sprintf("unrecognized tag dyad-agent-%s", name))
	}
}

// strictUnmarshal decodes JSON rejecting unknown fields, so schema drift
// in model output surfaces as a warning instead of silently dropping data.
func strictUnmarshal(body string, dest any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	return nil
}

func splitRefs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	refs := make([]string, 0, len(parts))
	for _, part := range parts {
		if ref := strings.TrimSpace(part); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
