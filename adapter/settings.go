package adapter

import (
	"time"

	"github.com/google/go-dap"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb"
)

type showDisassembly int

const (
	showDisassemblyAuto showDisassembly = iota
	showDisassemblyAlways
	showDisassemblyNever
)

type consoleMode int

const (
	consoleModeCommands consoleMode = iota
	consoleModeEvaluate
	consoleModeSplit
)

type breakpointMode int

const (
	breakpointModePath breakpointMode = iota
	breakpointModeFile
)

const maxSummaryLength = 32

// sessionSettings is the resolved settings snapshot. Defaults mirror the
// values a fresh session starts with.
type sessionSettings struct {
	globalFormat         lldb.Format
	showDisassembly      showDisassembly
	derefPointers        bool
	containerSummary     bool
	suppressMissingFiles bool
	consoleMode          consoleMode
	evaluateForHovers    bool
	commandCompletions   bool
	evaluationTimeout    time.Duration
	summaryTimeout       time.Duration
	sourceLanguages      []string
	terminalPromptClear  []string
}

func defaultSettings() sessionSettings {
	return sessionSettings{
		globalFormat:         lldb.FormatDefault,
		showDisassembly:      showDisassemblyAuto,
		derefPointers:        true,
		containerSummary:     true,
		suppressMissingFiles: true,
		consoleMode:          consoleModeCommands,
		evaluateForHovers:    true,
		commandCompletions:   true,
		evaluationTimeout:    5 * time.Second,
		summaryTimeout:       10 * time.Millisecond,
		sourceLanguages:      []string{"cpp"},
	}
}

// updateAdapterSettings merges a settings delta and returns the
// capabilities that changed as a result, with changed=false when none did.
func (s *Session) updateAdapterSettings(in *dapsrv.AdapterSettings) (caps dap.Capabilities, changed bool) {
	if in.DisplayFormat != nil {
		switch *in.DisplayFormat {
		case "auto":
			s.settings.globalFormat = lldb.FormatDefault
		case "hex":
			s.settings.globalFormat = lldb.FormatHex
		case "decimal":
			s.settings.globalFormat = lldb.FormatDecimal
		case "binary":
			s.settings.globalFormat = lldb.FormatBinary
		}
	}
	if in.ShowDisassembly != nil {
		switch *in.ShowDisassembly {
		case "always":
			s.settings.showDisassembly = showDisassemblyAlways
		case "never":
			s.settings.showDisassembly = showDisassemblyNever
		case "auto":
			s.settings.showDisassembly = showDisassemblyAuto
		}
	}
	if in.DereferencePointers != nil {
		s.settings.derefPointers = *in.DereferencePointers
	}
	if in.ContainerSummary != nil {
		s.settings.containerSummary = *in.ContainerSummary
	}
	if in.SuppressMissingSourceFiles != nil {
		s.settings.suppressMissingFiles = *in.SuppressMissingSourceFiles
	}
	if in.EvaluationTimeout != nil {
		s.settings.evaluationTimeout = time.Duration(*in.EvaluationTimeout * float64(time.Second))
	}
	if in.SummaryTimeout != nil {
		s.settings.summaryTimeout = time.Duration(*in.SummaryTimeout * float64(time.Second))
	}
	if in.TerminalPromptClear != nil {
		s.settings.terminalPromptClear = in.TerminalPromptClear
	}
	if in.ConsoleMode != nil {
		switch *in.ConsoleMode {
		case "commands":
			s.settings.consoleMode = consoleModeCommands
		case "evaluate":
			s.settings.consoleMode = consoleModeEvaluate
		case "split":
			s.settings.consoleMode = consoleModeSplit
		}
	}

	if in.EvaluateForHovers != nil && s.settings.evaluateForHovers != *in.EvaluateForHovers {
		s.settings.evaluateForHovers = *in.EvaluateForHovers
		caps.SupportsEvaluateForHovers = *in.EvaluateForHovers
		changed = true
	}
	if in.CommandCompletions != nil && s.settings.commandCompletions != *in.CommandCompletions {
		s.settings.commandCompletions = *in.CommandCompletions
		caps.SupportsCompletionsRequest = *in.CommandCompletions
		changed = true
	}
	if in.SourceLanguages != nil && !equalStrings(s.settings.sourceLanguages, in.SourceLanguages) {
		s.settings.sourceLanguages = in.SourceLanguages
		caps.ExceptionBreakpointFilters = exceptionFiltersFor(s.settings.sourceLanguages)
		changed = true
	}
	if s.interp != nil {
		s.interp.UpdateSettings(s.settings.evaluationTimeout)
	}
	return caps, changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
