// Package plugins implements the process-wide plugin registry: static
// factories plus dynamically loaded shared libraries, each moving
// through the Unloaded->Loaded->Initialized->Active->Stopped lifecycle
// (§3, §4.10).
package plugins

import (
	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
)

// Type is the plugin surface a given implementation provides (§6
// "plugin_type"). The set is user-extensible, so it's a plain string
// rather than a closed enum.
type Type string

const (
	TypeRegimeDetector Type = "regime_detector"
	TypeStrategy       Type = "strategy"
	TypeExecutionModel Type = "execution_model"
	TypeRiskManager    Type = "risk_manager"
)

// ABIVersion is the engine's compiled-in dynamic-plugin ABI version; a
// shared library whose reported version doesn't string-equal this is
// rejected (§6).
const ABIVersion = "regimeflow-plugin-abi-v1"

// Plugin is the lifecycle surface every registry-managed plugin
// implements, static or dynamic (§4.10).
type Plugin interface {
	Info() types.PluginInfo
	OnLoad() error
	OnInitialize(config map[string]any) error
	OnStart() error
	OnStop() error
}

// Factory constructs a new Plugin instance on demand; the registry holds
// one factory per (type, name) pair.
type Factory func() Plugin

// Handle wraps a constructed plugin with its current lifecycle state,
// transitioning only through types.PluginState.CanTransitionTo.
type Handle struct {
	Type   Type
	Name   string
	Plugin Plugin
	state  types.PluginState
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() types.PluginState { return h.state }

func (h *Handle) transition(next types.PluginState) error {
	if !h.state.CanTransitionTo(next) {
		return errs.New(errs.InvalidState, "Handle.transition",
			"illegal plugin state transition from "+h.state.String()+" to "+next.String())
	}
	h.state = next
	return nil
}

// Start invokes OnStart and transitions to Active, or Error on failure.
func (h *Handle) Start() error {
	if err := h.transition(types.PluginActive); err != nil {
		return err
	}
	if err := h.Plugin.OnStart(); err != nil {
		h.state = types.PluginError
		return err
	}
	return nil
}

// Stop invokes OnStop and transitions to Stopped, or Error on failure.
func (h *Handle) Stop() error {
	if h.state != types.PluginActive {
		return errs.New(errs.InvalidState, "Handle.Stop", "plugin is not active")
	}
	if err := h.Plugin.OnStop(); err != nil {
		h.state = types.PluginError
		return err
	}
	return h.transition(types.PluginStopped)
}
