package dap

import (
	"encoding/json"

	"github.com/google/go-dap"
)

// AdapterSettings is the adapter configuration surface. All fields are
// optional so the same type serves as a delta in the _adapterSettings
// request and as a whole in the settings file.
type AdapterSettings struct {
	DisplayFormat              *string  `json:"displayFormat,omitempty" toml:"displayFormat"`
	ShowDisassembly            *string  `json:"showDisassembly,omitempty" toml:"showDisassembly"`
	DereferencePointers        *bool    `json:"dereferencePointers,omitempty" toml:"dereferencePointers"`
	ContainerSummary           *bool    `json:"containerSummary,omitempty" toml:"containerSummary"`
	EvaluationTimeout          *float64 `json:"evaluationTimeout,omitempty" toml:"evaluationTimeout"`
	SummaryTimeout             *float64 `json:"summaryTimeout,omitempty" toml:"summaryTimeout"`
	SuppressMissingSourceFiles *bool    `json:"suppressMissingSourceFiles,omitempty" toml:"suppressMissingSourceFiles"`
	ConsoleMode                *string  `json:"consoleMode,omitempty" toml:"consoleMode"`
	SourceLanguages            []string `json:"sourceLanguages,omitempty" toml:"sourceLanguages"`
	EvaluateForHovers          *bool    `json:"evaluateForHovers,omitempty" toml:"evaluateForHovers"`
	CommandCompletions         *bool    `json:"commandCompletions,omitempty" toml:"commandCompletions"`
	TerminalPromptClear        []string `json:"terminalPromptClear,omitempty" toml:"terminalPromptClear"`
}

// Custom commands are namespaced with a leading underscore.
const (
	CommandAdapterSettings    = "_adapterSettings"
	CommandSymbols            = "_symbols"
	CommandExcludeCaller      = "_excludeCaller"
	CommandSetExcludedCallers = "_setExcludedCallers"
)

// AdapterSettingsRequest updates adapter settings mid-session.
type AdapterSettingsRequest struct {
	dap.Request
	Arguments AdapterSettings `json:"arguments"`
}

// SymbolsRequest searches module symbols.
type SymbolsRequest struct {
	dap.Request
	Arguments SymbolsArguments `json:"arguments"`
}

type SymbolsArguments struct {
	Filter     string `json:"filter"`
	MaxResults int    `json:"maxResults"`
}

type SymbolsResponse struct {
	dap.Response
	Body SymbolsResponseBody `json:"body"`
}

type SymbolsResponseBody struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Address  string     `json:"address"`
	Location *SymbolLoc `json:"location,omitempty"`
}

type SymbolLoc struct {
	Source dap.Source `json:"source"`
	Line   int        `json:"line"`
}

// BreakpointRef addresses a breakpoint either by numeric id or, for
// exception breakpoints, by filter id + label.
type BreakpointRef struct {
	ID     int    `json:"id,omitempty"`
	Filter string `json:"filter,omitempty"`
	Label  string `json:"label,omitempty"`
}

// ExcludeCallerRequest adds the caller of the current stop location to the
// hit breakpoint's exclusion list.
type ExcludeCallerRequest struct {
	dap.Request
	Arguments ExcludeCallerArguments `json:"arguments"`
}

type ExcludeCallerArguments struct {
	ThreadId   int `json:"threadId"`
	FrameIndex int `json:"frameIndex"`
}

type ExcludeCallerResponse struct {
	dap.Response
	Body ExcludeCallerResponseBody `json:"body"`
}

type ExcludeCallerResponseBody struct {
	Breakpoint BreakpointRef `json:"breakpoint"`
	Symbol     string        `json:"symbol"`
}

// SetExcludedCallersRequest replaces all exclusion lists.
type SetExcludedCallersRequest struct {
	dap.Request
	Arguments SetExcludedCallersArguments `json:"arguments"`
}

type SetExcludedCallersArguments struct {
	Exclusions []CallerExclusion `json:"exclusions"`
}

type CallerExclusion struct {
	Breakpoint BreakpointRef `json:"breakpoint"`
	Symbol     string        `json:"symbol"`
}

// UnknownRequest is the decode sentinel for commands this adapter does not
// recognize. The dispatcher fails it with "Not implemented."
type UnknownRequest struct {
	dap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// GenericResponse carries responses to commands outside go-dap's table
// (clients of this package decode custom-command responses into it).
type GenericResponse struct {
	dap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

func decodeGenericResponse(data []byte) (dap.Message, error) {
	m := &GenericResponse{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeCustomRequest decodes requests go-dap's table does not know about:
// our underscore-namespaced extensions plus the unknown-command sentinel.
func decodeCustomRequest(data []byte) (dap.RequestMessage, error) {
	var base struct {
		Seq       int             `json:"seq"`
		Type      string          `json:"type"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	req := dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: base.Seq, Type: base.Type},
		Command:         base.Command,
	}

	var msg dap.RequestMessage
	switch base.Command {
	case CommandAdapterSettings:
		m := &AdapterSettingsRequest{Request: req}
		if len(base.Arguments) > 0 {
			if err := json.Unmarshal(base.Arguments, &m.Arguments); err != nil {
				return nil, err
			}
		}
		msg = m
	case CommandSymbols:
		m := &SymbolsRequest{Request: req}
		if len(base.Arguments) > 0 {
			if err := json.Unmarshal(base.Arguments, &m.Arguments); err != nil {
				return nil, err
			}
		}
		msg = m
	case CommandExcludeCaller:
		m := &ExcludeCallerRequest{Request: req}
		if len(base.Arguments) > 0 {
			if err := json.Unmarshal(base.Arguments, &m.Arguments); err != nil {
				return nil, err
			}
		}
		msg = m
	case CommandSetExcludedCallers:
		m := &SetExcludedCallersRequest{Request: req}
		if len(base.Arguments) > 0 {
			if err := json.Unmarshal(base.Arguments, &m.Arguments); err != nil {
				return nil, err
			}
		}
		msg = m
	default:
		msg = &UnknownRequest{Request: req, Arguments: base.Arguments}
	}
	return msg, nil
}
