// Package ivr implements a menu-graph interactive voice response engine:
// sessions navigate a stack of named menus driven by DTMF input, with
// per-menu retry/timeout handling and a sweeper for abandoned sessions.
package ivr

import (
	"fmt"
	"sync"
	"time"

	"github.com/Olib-AI/voicebridge/internal/dtmf"
)

// ItemAction is what a menu item does when selected.
type ItemAction string

const (
	ItemTransfer     ItemAction = "transfer"
	ItemHangup       ItemAction = "hangup"
	ItemPlayPrompt   ItemAction = "play_prompt"
	ItemGotoMenu     ItemAction = "goto_menu"
	ItemRepeatMenu   ItemAction = "repeat_menu"
	ItemPreviousMenu ItemAction = "previous_menu"
	ItemForwardToAI  ItemAction = "forward_to_ai"
	ItemCollectInput ItemAction = "collect_input"
	ItemCustom       ItemAction = "custom"
)

// MenuItem is one selectable key in a Menu.
type MenuItem struct {
	Action ItemAction
	Target string // menu id, transfer destination, prompt asset, or custom handler name
	Prompt string // optional prompt asset played before/instead of the action (e.g. for collect_input)
}

// Menu is one node in the IVR graph.
type Menu struct {
	ID             string
	WelcomePrompt  string
	Items          map[dtmf.Digit]MenuItem
	TimeoutSeconds int
	MaxRetries     int
	TimeoutAction  *MenuItem
	Interruptible  bool
}

// EndReason explains why a session ended.
type EndReason string

const (
	EndTransfer      EndReason = "transfer"
	EndHangup        EndReason = "hangup"
	EndForwardToAI   EndReason = "forward_to_ai"
	EndMaxRetries    EndReason = "max_retries"
	EndSwept         EndReason = "session_timeout"
	EndCallEnded     EndReason = "call_ended"
	EndFailedToStart EndReason = "failed_to_start"
)

// Session tracks one call's position in the IVR graph.
type Session struct {
	CallID       string
	stack        []string
	currentMenu  string
	state        string // "waiting_for_input" while a menu awaits a digit
	retryCount   int
	collected    string
	lastActivity time.Time
}

// CustomHandler implements a menu item whose Action is ItemCustom.
type CustomHandler func(callID string, item MenuItem) error

// Hooks are the side effects the engine drives; nil hooks are no-ops.
type Hooks struct {
	PlayPrompt  func(callID, asset string)
	StopPrompt  func(callID string)
	Transfer    func(callID, target string)
	Hangup      func(callID string)
	ForwardToAI func(callID string, collected string)
	EndSession  func(callID string, reason EndReason)
}

// Engine runs IVR sessions against a fixed menu graph.
type Engine struct {
	mu             sync.Mutex
	menus          map[string]Menu
	sessions       map[string]*Session
	customHandlers map[string]CustomHandler
	sessionTimeout time.Duration
	hooks          Hooks
}

// NewEngine creates an Engine over menus (keyed by id), with sessionTimeout
// bounding how long an abandoned session may sit idle before the sweeper
// force-ends it (default 10 minutes when non-positive).
func NewEngine(menus []Menu, customHandlers map[string]CustomHandler, sessionTimeout time.Duration, hooks Hooks) *Engine {
	m := make(map[string]Menu, len(menus))
	for _, menu := range menus {
		m[menu.ID] = menu
	}
	if sessionTimeout <= 0 {
		sessionTimeout = 10 * time.Minute
	}
	return &Engine{
		menus:          m,
		sessions:       make(map[string]*Session),
		customHandlers: customHandlers,
		sessionTimeout: sessionTimeout,
		hooks:          hooks,
	}
}

// StartSession begins IVR navigation for callID at menuID: plays the
// welcome prompt and marks the session waiting_for_input.
func (e *Engine) StartSession(callID, menuID string) error {
	menu, ok := e.menus[menuID]
	if !ok {
		if e.hooks.EndSession != nil {
			e.hooks.EndSession(callID, EndFailedToStart)
		}
		return fmt.Errorf("ivr: unknown menu %q", menuID)
	}
	e.mu.Lock()
	e.sessions[callID] = &Session{
		CallID:       callID,
		stack:        nil,
		currentMenu:  menuID,
		state:        "waiting_for_input",
		lastActivity: time.Now(),
	}
	e.mu.Unlock()

	if e.hooks.PlayPrompt != nil {
		e.hooks.PlayPrompt(callID, menu.WelcomePrompt)
	}
	return nil
}

// HandleDigit routes a DTMF digit to the call's active session, if any.
// An in-flight prompt is stopped only if the current menu has
// Interruptible set; a menu that leaves it unset does not stop the prompt.
func (e *Engine) HandleDigit(callID string, digit dtmf.Digit) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	menu, ok := e.menus[sess.currentMenu]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if menu.Interruptible && e.hooks.StopPrompt != nil {
		e.hooks.StopPrompt(callID)
	}

	item, ok := menu.Items[digit]
	if !ok {
		e.invalid(callID, menu)
		return
	}
	e.selectItem(callID, menu, item)
}

// Timeout signals that the call's menu timed out waiting for input;
// handled identically to an invalid input.
func (e *Engine) Timeout(callID string) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	menu, ok := e.menus[sess.currentMenu]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.invalid(callID, menu)
}

func (e *Engine) invalid(callID string, menu Menu) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.retryCount++
	sess.lastActivity = time.Now()
	exceeded := menu.MaxRetries > 0 && sess.retryCount >= menu.MaxRetries
	e.mu.Unlock()

	if !exceeded {
		if e.hooks.PlayPrompt != nil {
			e.hooks.PlayPrompt(callID, menu.WelcomePrompt)
		}
		return
	}

	if menu.TimeoutAction != nil {
		e.selectItem(callID, menu, *menu.TimeoutAction)
		return
	}
	e.end(callID, EndMaxRetries)
}

func (e *Engine) selectItem(callID string, menu Menu, item MenuItem) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.retryCount = 0
	sess.lastActivity = time.Now()
	e.mu.Unlock()

	switch item.Action {
	case ItemTransfer:
		if e.hooks.Transfer != nil {
			e.hooks.Transfer(callID, item.Target)
		}
		e.end(callID, EndTransfer)
	case ItemHangup:
		if e.hooks.Hangup != nil {
			e.hooks.Hangup(callID)
		}
		e.end(callID, EndHangup)
	case ItemPlayPrompt:
		if e.hooks.PlayPrompt != nil {
			e.hooks.PlayPrompt(callID, item.Target)
		}
	case ItemGotoMenu:
		e.gotoMenu(callID, menu.ID, item.Target)
	case ItemRepeatMenu:
		if e.hooks.PlayPrompt != nil {
			e.hooks.PlayPrompt(callID, menu.WelcomePrompt)
		}
	case ItemPreviousMenu:
		e.previousMenu(callID)
	case ItemForwardToAI:
		e.mu.Lock()
		collected := sess.collected
		e.mu.Unlock()
		if e.hooks.ForwardToAI != nil {
			e.hooks.ForwardToAI(callID, collected)
		}
		e.end(callID, EndForwardToAI)
	case ItemCollectInput:
		e.mu.Lock()
		sess.collected += item.Target
		e.mu.Unlock()
		if e.hooks.PlayPrompt != nil && item.Prompt != "" {
			e.hooks.PlayPrompt(callID, item.Prompt)
		}
	case ItemCustom:
		if handler, ok := e.customHandlers[item.Target]; ok {
			_ = handler(callID, item)
		}
	}
}

func (e *Engine) gotoMenu(callID, currentMenuID, targetMenuID string) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.stack = append(sess.stack, currentMenuID)
	sess.currentMenu = targetMenuID
	e.mu.Unlock()

	if target, ok := e.menus[targetMenuID]; ok && e.hooks.PlayPrompt != nil {
		e.hooks.PlayPrompt(callID, target.WelcomePrompt)
	}
}

func (e *Engine) previousMenu(callID string) {
	e.mu.Lock()
	sess, ok := e.sessions[callID]
	if !ok || len(sess.stack) == 0 {
		e.mu.Unlock()
		return
	}
	n := len(sess.stack)
	prev := sess.stack[n-1]
	sess.stack = sess.stack[:n-1]
	sess.currentMenu = prev
	e.mu.Unlock()

	if menu, ok := e.menus[prev]; ok && e.hooks.PlayPrompt != nil {
		e.hooks.PlayPrompt(callID, menu.WelcomePrompt)
	}
}

func (e *Engine) end(callID string, reason EndReason) {
	e.mu.Lock()
	delete(e.sessions, callID)
	e.mu.Unlock()
	if e.hooks.EndSession != nil {
		e.hooks.EndSession(callID, reason)
	}
}

// Sweep force-ends sessions idle longer than sessionTimeout.
func (e *Engine) Sweep() {
	now := time.Now()
	var expired []string
	e.mu.Lock()
	for callID, sess := range e.sessions {
		if now.Sub(sess.lastActivity) > e.sessionTimeout {
			expired = append(expired, callID)
		}
	}
	for _, callID := range expired {
		delete(e.sessions, callID)
	}
	e.mu.Unlock()

	for _, callID := range expired {
		if e.hooks.EndSession != nil {
			e.hooks.EndSession(callID, EndSwept)
		}
	}
}

// Stop force-ends callID's session, if any, e.g. on call teardown. Unlike
// the other end paths it carries no menu-specific side effect beyond the
// EndSession hook.
func (e *Engine) Stop(callID string) {
	e.mu.Lock()
	_, ok := e.sessions[callID]
	if ok {
		delete(e.sessions, callID)
	}
	e.mu.Unlock()
	if ok && e.hooks.EndSession != nil {
		e.hooks.EndSession(callID, EndCallEnded)
	}
}

// Active reports whether callID has a live IVR session.
func (e *Engine) Active(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[callID]
	return ok
}

// CurrentMenu returns the call's current menu id, for tests and
// diagnostics.
func (e *Engine) CurrentMenu(callID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[callID]; ok {
		return sess.currentMenu
	}
	return ""
}

// State returns the call's session state (e.g. "waiting_for_input"), for
// tests and diagnostics.
func (e *Engine) State(callID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[callID]; ok {
		return sess.state
	}
	return ""
}
