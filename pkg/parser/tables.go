package parser

import "github.com/sutraworks/sutra/pkg/core"

// phraseTable is the compiled-in exact-match table, keyed by normalized
// form. Kept sorted by concept for readability; lookup is by map.
var phraseTable = map[string]core.ConceptID{
	// status
	"status":                     core.ConceptStatus,
	"system status":              core.ConceptStatus,
	"show status":                core.ConceptStatus,
	"show me system status":      core.ConceptStatus,
	"show me the system status":  core.ConceptStatus,
	"what is the system status":  core.ConceptStatus,
	"how is the system doing":    core.ConceptStatus,
	"how are you doing":          core.ConceptStatus,
	"health check":               core.ConceptStatus,

	// refresh / reboot / shutdown
	"refresh":              core.ConceptRefresh,
	"refresh the screen":   core.ConceptRefresh,
	"redraw":               core.ConceptRefresh,
	"reload":               core.ConceptRefresh,
	"reboot":               core.ConceptReboot,
	"restart":              core.ConceptReboot,
	"restart the system":   core.ConceptReboot,
	"reboot the system":    core.ConceptReboot,
	"shutdown":             core.ConceptShutdown,
	"shut down":            core.ConceptShutdown,
	"power off":            core.ConceptShutdown,
	"turn off":             core.ConceptShutdown,
	"halt":                 core.ConceptShutdown,

	// help
	"help":              core.ConceptHelp,
	"help me":           core.ConceptHelp,
	"what can you do":   core.ConceptHelp,
	"show commands":     core.ConceptHelp,
	"list commands":     core.ConceptHelp,

	// time
	"time":                core.ConceptTime,
	"what time is it":     core.ConceptTime,
	"what is the time":    core.ConceptTime,
	"current time":        core.ConceptTime,
	"show the clock":      core.ConceptTime,

	// memory
	"memory":               core.ConceptMemory,
	"memory usage":         core.ConceptMemory,
	"show memory":          core.ConceptMemory,
	"how much memory":      core.ConceptMemory,
	"free memory":          core.ConceptMemory,

	// version
	"version":              core.ConceptVersion,
	"what version":         core.ConceptVersion,
	"show version":         core.ConceptVersion,
	"which version is this": core.ConceptVersion,

	// screen
	"clear":             core.ConceptClear,
	"clear the screen":  core.ConceptClear,
	"wipe the screen":   core.ConceptClear,

	// undo / redo
	"undo":               core.ConceptUndo,
	"undo that":          core.ConceptUndo,
	"take that back":     core.ConceptUndo,
	"redo":               core.ConceptRedo,
	"redo that":          core.ConceptRedo,
	"do that again":      core.ConceptRedo,

	// temperature
	"temperature":                core.ConceptTemp,
	"how hot is it":              core.ConceptTemp,
	"what is the temperature":    core.ConceptTemp,
	"cpu temperature":            core.ConceptTemp,
	"how warm is the board":      core.ConceptTemp,
}

// synonymTable rewrites tokens before the phrase retry. Keys and values
// are single normalized tokens; multi-word expansions are applied as
// splices.
var synonymTable = map[string][]string{
	"info":        {"status"},
	"information": {"status"},
	"stats":       {"status"},
	"diagnostics": {"status"},
	"what's":      {"what", "is"},
	"whats":       {"what", "is"},
	"how's":       {"how", "is"},
	"it's":        {"it", "is"},
	"machine":     {"system"},
	"computer":    {"system"},
	"device":      {"system"},
	"board":       {"system"},
	"display":     {"screen"},
	"monitor":     {"screen"},
	"ram":         {"memory"},
	"reset":       {"restart"},
	"cycle":       {"restart"},
	"temp":        {"temperature"},
	"heat":        {"temperature"},
	"hot":         {"temperature"},
	"revert":      {"undo"},
	"cancel":      {"undo"},
}

// keywordEntry is a high-salience token with a registry priority.
type keywordEntry struct {
	concept  core.ConceptID
	priority uint8
}

// keywordTable drives stage-4 extraction: any registered non-stopword
// token present emits its concept at confidence 0.9. Ties break by
// priority, then leftmost position.
var keywordTable = map[string]keywordEntry{
	"shutdown":    {core.ConceptShutdown, 200},
	"reboot":      {core.ConceptReboot, 190},
	"restart":     {core.ConceptReboot, 190},
	"undo":        {core.ConceptUndo, 180},
	"redo":        {core.ConceptRedo, 180},
	"status":      {core.ConceptStatus, 160},
	"refresh":     {core.ConceptRefresh, 150},
	"memory":      {core.ConceptMemory, 140},
	"temperature": {core.ConceptTemp, 140},
	"version":     {core.ConceptVersion, 130},
	"clear":       {core.ConceptClear, 120},
	"time":        {core.ConceptTime, 110},
	"clock":       {core.ConceptTime, 110},
	"help":        {core.ConceptHelp, 100},
}

// stopwords never count as salient on their own.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "at": {}, "be": {},
	"can": {}, "do": {}, "for": {}, "give": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "please": {}, "show": {}, "tell": {}, "the": {},
	"this": {}, "to": {}, "us": {}, "what": {}, "which": {},
	"you": {}, "your": {},
}
