package proto

// CommandKind identifies the typed command detected from a user turn.
type CommandKind string

// Command kind constants.
const (
	CommandBrief      CommandKind = "brief"
	CommandStart      CommandKind = "start"
	CommandContinue   CommandKind = "continue"
	CommandRevise     CommandKind = "revise"
	CommandChangePlan CommandKind = "change_plan"
	CommandSwitchMode CommandKind = "switch_mode"
	CommandCustom     CommandKind = "custom"
)

// Command is the interpreted form of a raw user turn. RawText always
// carries the original input so it can be logged and forwarded verbatim.
type Command struct {
	Kind    CommandKind `json:"kind"`
	RawText string      `json:"rawText"`

	// TodoID is the uppercased target of a revise command.
	TodoID string `json:"todoId,omitempty"`

	// ModeTarget is the trailing token of a switch-mode command.
	ModeTarget string `json:"modeTarget,omitempty"`

	// ToggleAuto marks a custom command that flips auto-advance
	// ("auto" / "auto continue" input).
	ToggleAuto bool `json:"toggleAuto,omitempty"`

	// Stage is a hint attached to custom commands; set to "completed"
	// when the plan has no pending todos left.
	Stage string `json:"stage,omitempty"`
}
