package adapter

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/expressions"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/terminal"
	"github.com/kestrel-dbg/kestrel/util/pathutil"
)

// commonLaunchFields are shared between launch and attach configurations.
type commonLaunchFields struct {
	Name             string                  `json:"name,omitempty"`
	StopOnEntry      bool                    `json:"stopOnEntry,omitempty"`
	InitCommands     []string                `json:"initCommands,omitempty"`
	PreRunCommands   []string                `json:"preRunCommands,omitempty"`
	PostRunCommands  []string                `json:"postRunCommands,omitempty"`
	ExitCommands     []string                `json:"exitCommands,omitempty"`
	Expressions      string                  `json:"expressions,omitempty"`
	SourceMap        map[string]*string      `json:"sourceMap,omitempty"`
	RelativePathBase string                  `json:"relativePathBase,omitempty"`
	ReverseDebugging bool                    `json:"reverseDebugging,omitempty"`
	BreakpointMode   string                  `json:"breakpointMode,omitempty"`
	AdapterSettings  *dapsrv.AdapterSettings `json:"_adapterSettings,omitempty"`
}

type launchConfig struct {
	commonLaunchFields
	NoDebug               bool              `json:"noDebug,omitempty"`
	Program               string            `json:"program,omitempty"`
	Args                  []string          `json:"args,omitempty"`
	Cwd                   string            `json:"cwd,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	EnvFile               string            `json:"envFile,omitempty"`
	Stdio                 json.RawMessage   `json:"stdio,omitempty"`
	Terminal              string            `json:"terminal,omitempty"`
	Console               string            `json:"console,omitempty"`
	Custom                bool              `json:"custom,omitempty"`
	TargetCreateCommands  []string          `json:"targetCreateCommands,omitempty"`
	ProcessCreateCommands []string          `json:"processCreateCommands,omitempty"`
}

type attachConfig struct {
	commonLaunchFields
	Program               string          `json:"program,omitempty"`
	Pid                   json.RawMessage `json:"pid,omitempty"`
	WaitFor               bool            `json:"waitFor,omitempty"`
	TargetCreateCommands  []string        `json:"targetCreateCommands,omitempty"`
	ProcessCreateCommands []string        `json:"processCreateCommands,omitempty"`
}

func (s *Session) onLaunch(c dapsrv.Context, req *dap.LaunchRequest, resp *dap.LaunchResponse) error {
	var cfg launchConfig
	if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
		return dapsrv.BlameUserError(errors.Wrap(err, "Could not parse launch configuration"))
	}

	if err := s.commonInitSession(c, &cfg.commonLaunchFields); err != nil {
		return err
	}

	if cfg.Custom {
		return s.startCustomLaunch(c, cfg)
	}

	s.noDebug = cfg.NoDebug

	var target lldb.Target
	if len(cfg.TargetCreateCommands) > 0 {
		if err := s.execCommands(c, "targetCreateCommands", cfg.TargetCreateCommands); err != nil {
			return err
		}
		target = s.debugger.SelectedTarget()
	} else {
		if cfg.Program == "" {
			return dapsrv.BlameUserError(errors.New(`The "program" attribute is required for launch.`))
		}
		var err error
		target, err = s.debugger.CreateTarget(pathutil.ExpandTilde(cfg.Program))
		if err != nil {
			return dapsrv.BlameUserError(err)
		}
	}
	s.initTarget(target)
	s.sendEvent(c, &dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})

	s.finalizeDone = make(chan struct{})
	finalizeDone := s.finalizeDone
	configDone := s.configDone
	return &deferredResponse{run: func(c dapsrv.Context) (dap.ResponseMessage, error) {
		defer close(finalizeDone)

		s.createTerminal(c, cfg.Terminal, cfg.Console, cfg.Name)

		select {
		case <-configDone:
		case <-c.Done():
			return nil, c.Err()
		}

		return s.call(func(c dapsrv.Context) (dap.ResponseMessage, error) {
			if err := s.completeLaunch(c, cfg); err != nil {
				return nil, err
			}
			return &dap.LaunchResponse{}, nil
		})
	}}
}

func (s *Session) initTarget(target lldb.Target) {
	s.target = target
	s.disasm = newAddressSpace(target)
}

func (s *Session) completeLaunch(c dapsrv.Context, cfg launchConfig) error {
	var info lldb.LaunchInfo

	// Compose the environment: host environment iff the engine is set to
	// inherit it, then the env file, then explicit entries.
	env := map[string]string{}
	inherit := s.debugger.GetVariable("target.inherit-env")
	if len(inherit) > 0 && inherit[0] == "true" {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	if cfg.EnvFile != "" {
		fileEnv, err := parseEnvFile(pathutil.ExpandTilde(cfg.EnvFile))
		if err != nil {
			return dapsrv.BlameUserError(err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range cfg.Env {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		info.Env = append(info.Env, k+"="+env[k])
	}

	info.Args = cfg.Args
	info.Cwd = pathutil.ExpandTilde(cfg.Cwd)
	info.StopAtEntry = cfg.StopOnEntry
	if err := s.configureStdio(cfg.Stdio, &info); err != nil {
		return err
	}

	// User commands may adjust target state before the launch.
	if len(cfg.PreRunCommands) > 0 {
		if err := s.execCommands(c, "preRunCommands", cfg.PreRunCommands); err != nil {
			return err
		}
	}

	commandLine := s.target.Executable()
	for _, a := range info.Args {
		commandLine += " " + a
	}
	s.consoleMessage(c, "Launching: "+commandLine)

	var (
		process lldb.Process
		err     error
	)
	if len(cfg.ProcessCreateCommands) > 0 {
		if err := s.execCommands(c, "processCreateCommands", cfg.ProcessCreateCommands); err != nil {
			return err
		}
		process = s.target.Process()
	} else {
		process, err = s.target.Launch(info)
		if err != nil {
			return dapsrv.BlameUserError(err)
		}
	}
	s.process = process
	s.consoleMessage(c, fmt.Sprintf("Launched process %d", process.ProcessID()))
	s.terminateOnDisconnect = true

	// The engine sometimes loses the initial stop event.
	if info.StopAtEntry {
		s.notifyProcessStopped(c)
	}

	return s.commonPostRun(c, cfg.commonLaunchFields)
}

func (s *Session) startCustomLaunch(c dapsrv.Context, cfg launchConfig) error {
	if len(cfg.TargetCreateCommands) > 0 {
		if err := s.execCommands(c, "targetCreateCommands", cfg.TargetCreateCommands); err != nil {
			return err
		}
	}
	s.initTarget(s.debugger.SelectedTarget())
	s.sendEvent(c, &dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})

	s.finalizeDone = make(chan struct{})
	finalizeDone := s.finalizeDone
	configDone := s.configDone
	return &deferredResponse{run: func(c dapsrv.Context) (dap.ResponseMessage, error) {
		defer close(finalizeDone)

		select {
		case <-configDone:
		case <-c.Done():
			return nil, c.Err()
		}

		return s.call(func(c dapsrv.Context) (dap.ResponseMessage, error) {
			commands := cfg.ProcessCreateCommands
			if len(commands) == 0 {
				commands = cfg.PreRunCommands
			}
			if len(commands) > 0 {
				if err := s.execCommands(c, "processCreateCommands", commands); err != nil {
					return nil, err
				}
			}
			s.process = s.target.Process()
			s.terminateOnDisconnect = true

			// Susceptible to a race with the engine, but the best we can do.
			if s.process != nil && s.process.State().IsStopped() {
				s.notifyProcessStopped(c)
			}
			if err := s.commonPostRun(c, cfg.commonLaunchFields); err != nil {
				return nil, err
			}
			return &dap.LaunchResponse{}, nil
		})
	}}
}

func (s *Session) onAttach(c dapsrv.Context, req *dap.AttachRequest, resp *dap.AttachResponse) error {
	var cfg attachConfig
	if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
		return dapsrv.BlameUserError(errors.Wrap(err, "Could not parse attach configuration"))
	}

	if err := s.commonInitSession(c, &cfg.commonLaunchFields); err != nil {
		return err
	}

	if cfg.Program == "" && len(cfg.Pid) == 0 && len(cfg.TargetCreateCommands) == 0 {
		return dapsrv.BlameUserError(errors.New(`Either "program" or "pid" is required for attach.`))
	}

	var target lldb.Target
	if len(cfg.TargetCreateCommands) > 0 {
		if err := s.execCommands(c, "targetCreateCommands", cfg.TargetCreateCommands); err != nil {
			return err
		}
		target = s.debugger.SelectedTarget()
	} else {
		if cfg.Program != "" {
			target, _ = s.debugger.CreateTarget(cfg.Program)
		}
		if target == nil {
			// Fall back to a dummy target; attach-by-pid fills it in.
			var err error
			target, err = s.debugger.CreateTarget("")
			if err != nil {
				return dapsrv.BlameUserError(err)
			}
		}
	}
	s.initTarget(target)
	s.sendEvent(c, &dap.InitializedEvent{Event: dap.Event{Event: "initialized"}})

	s.finalizeDone = make(chan struct{})
	finalizeDone := s.finalizeDone
	configDone := s.configDone
	return &deferredResponse{run: func(c dapsrv.Context) (dap.ResponseMessage, error) {
		defer close(finalizeDone)

		select {
		case <-configDone:
		case <-c.Done():
			return nil, c.Err()
		}

		return s.call(func(c dapsrv.Context) (dap.ResponseMessage, error) {
			if err := s.completeAttach(c, cfg); err != nil {
				return nil, err
			}
			return &dap.AttachResponse{}, nil
		})
	}}
}

func (s *Session) completeAttach(c dapsrv.Context, cfg attachConfig) error {
	if len(cfg.PreRunCommands) > 0 {
		if err := s.execCommands(c, "preRunCommands", cfg.PreRunCommands); err != nil {
			return err
		}
	}

	var process lldb.Process
	if len(cfg.ProcessCreateCommands) > 0 {
		if err := s.execCommands(c, "processCreateCommands", cfg.ProcessCreateCommands); err != nil {
			return err
		}
		process = s.target.Process()
	} else {
		info := lldb.AttachInfo{WaitForLaunch: cfg.WaitFor}
		if len(cfg.Pid) > 0 {
			pid, err := parsePid(cfg.Pid)
			if err != nil {
				return err
			}
			info.Pid = pid
		} else if exe := s.target.Executable(); exe != "" {
			info.Path = exe
		} else if cfg.Program != "" {
			info.Path = cfg.Program
		} else {
			return errors.New("unreachable")
		}

		var err error
		process, err = s.target.Attach(info)
		if err != nil {
			return dapsrv.BlameUserErrorf("Could not attach: %s", err)
		}
	}
	s.process = process
	s.consoleMessage(c, fmt.Sprintf("Attached to process %d", process.ProcessID()))
	s.terminateOnDisconnect = false

	if cfg.StopOnEntry {
		s.notifyProcessStopped(c)
	} else if err := s.process.Resume(); err != nil {
		logrus.WithError(err).Error("resume after attach")
	}

	return s.commonPostRun(c, cfg.commonLaunchFields)
}

// parsePid accepts numbers and numeric strings.
func parsePid(raw json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if n, err := strconv.ParseUint(str, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, dapsrv.BlameUserError(errors.New("Process id must be a positive integer."))
}

func (s *Session) onConfigurationDone(c dapsrv.Context, req *dap.ConfigurationDoneRequest, resp *dap.ConfigurationDoneResponse) error {
	if !s.configDoneSent {
		s.configDoneSent = true
		close(s.configDone)
	}
	finalizeDone := s.finalizeDone
	if finalizeDone == nil {
		return nil
	}
	// Respond only after the pending launch/attach finalize completes.
	return &deferredResponse{run: func(c dapsrv.Context) (dap.ResponseMessage, error) {
		select {
		case <-finalizeDone:
			return &dap.ConfigurationDoneResponse{}, nil
		case <-c.Done():
			return nil, c.Err()
		}
	}}
}

// createTerminal provisions the debuggee terminal according to the launch
// configuration; failure degrades to console output.
func (s *Session) createTerminal(c dapsrv.Context, terminalKind, consoleKind, name string) {
	if s.target.Platform() != "host" {
		return // Can't attach a terminal when remote-debugging.
	}

	kind := terminalKind
	if kind == "" {
		switch consoleKind {
		case "internalConsole":
			kind = "console"
		case "externalTerminal":
			kind = "external"
		default:
			kind = "integrated"
		}
	}
	if kind == "console" {
		return
	}

	title := name
	if title == "" {
		title = "Debug"
	}

	if s.clientCaps.SupportsRunInTerminalRequest && s.agentPath != "" {
		t, err := terminal.Create(c, kind, title, s.agentPath)
		if err == nil {
			s.post(func(dapsrv.Context) { s.debuggeeTerminal = t })
			return
		}
		logrus.WithError(err).Warn("runInTerminal provisioning failed")
	}

	t, err := terminal.CreateLocal(s.consoleWriter)
	if err != nil {
		s.post(func(c dapsrv.Context) {
			s.consoleError(c, fmt.Sprintf(
				"Failed to redirect stdio to a terminal. (%s)\nDebuggee output will appear here.", err))
		})
		return
	}
	s.post(func(dapsrv.Context) { s.debuggeeTerminal = t })
}

// configureStdio wires the debuggee's fds 0..2 to the launch-config paths
// or, where unset, to the provisioned terminal.
func (s *Session) configureStdio(raw json.RawMessage, info *lldb.LaunchInfo) error {
	var names [3]string
	if len(raw) > 0 {
		var single string
		var list []*string
		if err := json.Unmarshal(raw, &single); err == nil {
			names[0] = single
		} else if err := json.Unmarshal(raw, &list); err == nil {
			for i := 0; i < len(list) && i < 3; i++ {
				if list[i] != nil {
					names[i] = *list[i]
				}
			}
		} else {
			return dapsrv.BlameUserError(errors.New(`Invalid "stdio" attribute.`))
		}
	}

	if s.debuggeeTerminal != nil {
		for fd := range names {
			if names[fd] != "" {
				continue
			}
			if fd == 0 {
				names[fd] = s.debuggeeTerminal.InputDevName()
			} else {
				names[fd] = s.debuggeeTerminal.OutputDevName()
			}
		}
	}
	info.Stdio = names
	return nil
}

// commonInitSession handles initialization shared by launch and attach.
func (s *Session) commonInitSession(c dapsrv.Context, common *commonLaunchFields) error {
	switch common.Expressions {
	case "native":
		s.defaultExprKind = expressions.Native
	case "simple":
		s.defaultExprKind = expressions.Simple
	case "python":
		s.defaultExprKind = expressions.Script
	}
	if s.interp == nil {
		if s.defaultExprKind != expressions.Native {
			s.consoleError(c, "Could not initialize the scripting interpreter - some features will be unavailable (e.g. debug visualizers).")
		}
		s.defaultExprKind = expressions.Native
	}

	if len(common.SourceMap) > 0 {
		s.initSourceMap(c, common.SourceMap)
	}

	if common.RelativePathBase != "" {
		s.relativePathBase = common.RelativePathBase
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		s.relativePathBase = cwd
	}

	if common.ReverseDebugging {
		s.sendEvent(c, &dap.CapabilitiesEvent{
			Event: dap.Event{Event: "capabilities"},
			Body: dap.CapabilitiesEventBody{
				Capabilities: dap.Capabilities{SupportsStepBack: true},
			},
		})
	}

	switch common.BreakpointMode {
	case "file":
		s.breakpointMode = breakpointModeFile
	case "path", "":
		s.breakpointMode = breakpointModePath
	}

	if common.AdapterSettings != nil {
		caps, changed := s.updateAdapterSettings(common.AdapterSettings)
		if changed {
			s.sendEvent(c, &dap.CapabilitiesEvent{
				Event: dap.Event{Event: "capabilities"},
				Body:  dap.CapabilitiesEventBody{Capabilities: caps},
			})
		}
	}

	s.printConsoleMode(c)

	// Pass SIGINT through so a graceful terminate request reaches the
	// debuggee rather than stopping it.
	if err := s.execCommands(c, "SIGINT passthrough for graceful terminate request",
		[]string{"process handle SIGINT -p true -s false"}); err != nil {
		return err
	}

	if len(common.InitCommands) > 0 {
		if err := s.execCommands(c, "initCommands", common.InitCommands); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) commonPostRun(c dapsrv.Context, common commonLaunchFields) error {
	if len(common.PostRunCommands) > 0 {
		if err := s.execCommands(c, "postRunCommands", common.PostRunCommands); err != nil {
			return err
		}
	}
	s.exitCommands = common.ExitCommands
	return nil
}

func (s *Session) initSourceMap(c dapsrv.Context, sourceMap map[string]*string) {
	escape := func(v string) string {
		return strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), `"`, `\"`)
	}

	var b strings.Builder
	for remote, local := range sourceMap {
		localEscaped := ""
		if local != nil {
			localEscaped = escape(*local)
		}
		fmt.Fprintf(&b, "%q %q ", escape(remote), localEscaped)
	}

	if b.Len() > 0 {
		logrus.Infof("set target.source-map args: %s", b.String())
		if err := s.debugger.SetVariable("target.source-map", b.String()); err != nil {
			s.consoleError(c, "Could not set source map: "+err.Error())
		}
	}
}

// parseEnvFile reads a dotenv-style file: KEY=VALUE lines, # comments,
// optional "export " prefixes and quoted values.
func parseEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read env file %q", path)
	}
	defer f.Close()

	env := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' && v[len(v)-1] == '"' || v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
		env[k] = v
	}
	return env, scanner.Err()
}
