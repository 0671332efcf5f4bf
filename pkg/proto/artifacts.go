package proto

// Analysis is the structured requirements record extracted from an
// analysis tag. It is replaced wholesale on each new analysis.
type Analysis struct {
	Goals              []string `json:"goals"`
	Constraints        []string `json:"constraints"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Risks              []string `json:"risks"`
	Clarifications     []string `json:"clarifications"`
	DyadTagRefs        []string `json:"dyadTagRefs"`
}

// HasOpenClarifications reports whether the analysis carries questions the
// user has not answered yet. A plan is held back while these are open and
// no todos exist.
func (a *Analysis) HasOpenClarifications() bool {
	return a != nil && len(a.Clarifications) > 0
}

// TodoSpec is a single todo as proposed in a plan tag.
type TodoSpec struct {
	TodoID             string     `json:"todoId"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Owner              string     `json:"owner,omitempty"`
	Inputs             []string   `json:"inputs"`
	Outputs            []string   `json:"outputs"`
	CompletionCriteria string     `json:"completionCriteria,omitempty"`
	Status             TodoStatus `json:"status,omitempty"`
	DyadTagRefs        []string   `json:"dyadTagRefs"`
}

// PlanSpec is a full plan as proposed in a plan tag. Committing a plan
// replaces the workflow's todo set atomically.
type PlanSpec struct {
	// Version is the explicit plan version from the tag attribute, if any.
	// When nil the store bumps the stored version by one.
	Version        *int       `json:"version,omitempty"`
	Todos          []TodoSpec `json:"todos"`
	DyadTagRefs    []string   `json:"dyadTagRefs"`
	DyadTagContext []string   `json:"dyadTagContext"`
}

// TodoUpdate is a proposed status change for one todo, parsed from a
// todo-update tag. Status may be empty when the tag only carries a note.
type TodoUpdate struct {
	TodoID      string     `json:"todoId"`
	Status      TodoStatus `json:"status,omitempty"`
	DyadTagRefs []string   `json:"dyadTagRefs,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// LogDirective is a log or error tag parsed from a response. Error tags
// always carry LogSystem.
type LogDirective struct {
	Type        LogType        `json:"type"`
	TodoID      string         `json:"todoId,omitempty"`
	Content     string         `json:"content"`
	DyadTagRefs []string       `json:"dyadTagRefs,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FocusRequest is a focus tag. An empty TodoID means "clear focus", which
// is always honored; a non-empty TodoID is validated against the allowed
// focus set before being applied.
type FocusRequest struct {
	TodoID string `json:"todoId"`
}

// ArtifactBundle is the structured result of parsing one LLM response.
// Every field is best-effort: malformed payloads degrade to Warnings and
// leave the corresponding field unset.
type ArtifactBundle struct {
	Analysis       *Analysis
	Plan           *PlanSpec
	TodoUpdates    []TodoUpdate
	Logs           []LogDirective
	WorkflowStatus *WorkflowStatus
	Focus          *FocusRequest
	AutoAdvance    *bool
	Warnings       []string
}
