package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/jsitnicki/rushit/internal/logging"
)

// Hook identifies one script-registered callback slot.
type Hook int

const (
	HookSocket Hook = iota
	HookClose
	HookSendmsg
	HookRecvmsg
	HookRecverr
	numHooks
)

func (h Hook) String() string {
	switch h {
	case HookSocket:
		return "socket"
	case HookClose:
		return "close"
	case HookSendmsg:
		return "sendmsg"
	case HookRecvmsg:
		return "recvmsg"
	case HookRecverr:
		return "recverr"
	}
	return "unknown"
}

var hookNames = [numHooks]string{"socket", "close", "sendmsg", "recvmsg", "recverr"}

// Config parameterizes a master script engine.
type Config struct {
	// IsClient selects which hook family (client_* or server_*) the
	// engine records; the other family is accepted and ignored.
	IsClient bool

	// NumThreads is the worker count tid_iter iterates over.
	NumThreads int

	Logger *logging.Logger
}

// Engine hosts the master interpreter. It runs the workload script once,
// records the hooks the script registers, and serializes them for the
// per-worker slaves.
type Engine struct {
	L          *lua.LState
	isClient   bool
	numThreads int
	log        *logging.Logger

	hooks      [numHooks]*lua.LFunction
	serialized [numHooks]*Function
	snapshotted bool
}

// NewEngine creates the master engine and installs the script globals.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.NumThreads < 1 {
		cfg.NumThreads = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	e := &Engine{
		L:          lua.NewState(),
		isClient:   cfg.IsClient,
		numThreads: cfg.NumThreads,
		log:        cfg.Logger,
	}
	e.registerHookGlobals()
	registerQueryGlobals(e.L, e.isClient, e.numThreads)
	return e, nil
}

// Close tears down the master interpreter.
func (e *Engine) Close() {
	e.L.Close()
}

// IsClient reports the engine's role.
func (e *Engine) IsClient() bool {
	return e.isClient
}

// registerHookGlobals installs client_* and server_* registration
// functions. Only the family matching the engine's role records hooks;
// the other family accepts its argument and drops it, so one script can
// serve both roles.
func (e *Engine) registerHookGlobals() {
	for h := Hook(0); h < numHooks; h++ {
		slot := h
		record := func(L *lua.LState) int {
			e.hooks[slot] = L.CheckFunction(1)
			return 0
		}
		discard := func(L *lua.LState) int {
			L.CheckFunction(1)
			return 0
		}
		clientFn, serverFn := record, discard
		if !e.isClient {
			clientFn, serverFn = discard, record
		}
		e.L.SetGlobal("client_"+hookNames[slot], e.L.NewFunction(clientFn))
		e.L.SetGlobal("server_"+hookNames[slot], e.L.NewFunction(serverFn))
	}
}

// registerQueryGlobals installs the query functions and the collector
// constructor. Slaves install the same set so hook bodies can call them.
func registerQueryGlobals(L *lua.LState, isClient bool, numThreads int) {
	L.SetGlobal("is_client", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(isClient))
		return 1
	}))
	L.SetGlobal("is_server", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(!isClient))
		return 1
	}))
	L.SetGlobal("tid_iter", L.NewFunction(func(L *lua.LState) int {
		i := 0
		L.Push(L.NewFunction(func(L *lua.LState) int {
			if i >= numThreads {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(i))
			i++
			return 1
		}))
		return 1
	}))
	L.SetGlobal("collector", L.NewFunction(func(L *lua.LState) int {
		tbl := L.CheckTable(1)
		mt := L.NewTable()
		mt.RawSetString("collector", lua.LTrue)
		L.SetMetatable(tbl, mt)
		L.Push(tbl)
		return 1
	}))
}

// WaitFunc is invoked exactly once after a script evaluates, before
// RunString or RunFile return. Workloads use it to block the master until
// the measurement window closes.
type WaitFunc func()

// RunString evaluates a script from source.
func (e *Engine) RunString(source string, wait WaitFunc) error {
	fn, err := e.L.LoadString(source)
	if err != nil {
		return fmt.Errorf("script: load: %w", err)
	}
	return e.run(fn, wait)
}

// RunFile evaluates a script from a file.
func (e *Engine) RunFile(path string, wait WaitFunc) error {
	fn, err := e.L.LoadFile(path)
	if err != nil {
		return fmt.Errorf("script: load %s: %w", path, err)
	}
	return e.run(fn, wait)
}

func (e *Engine) run(fn *lua.LFunction, wait WaitFunc) error {
	e.L.Push(fn)
	if err := e.L.PCall(0, 0, nil); err != nil {
		return fmt.Errorf("script: run: %w", err)
	}
	e.snapshotted = false
	if wait != nil {
		wait()
	}
	return nil
}

// snapshotHooks serializes every registered hook once. Slaves created
// afterwards consume the same trees, so their rebuilt closures share
// upvalue identity among themselves.
func (e *Engine) snapshotHooks() error {
	if e.snapshotted {
		return nil
	}
	for h := Hook(0); h < numHooks; h++ {
		fn := e.hooks[h]
		if fn == nil {
			e.serialized[h] = nil
			continue
		}
		sf, err := SerializeFunction(e.L, fn)
		if err != nil {
			return fmt.Errorf("script: %s hook: %w", h, err)
		}
		e.serialized[h] = sf
	}
	e.snapshotted = true
	return nil
}

// CollectorID resolves a named output sink: a global whose value is a
// collector wrapper. The returned identity keys collector reads against
// every slave.
func (e *Engine) CollectorID(name string) (CollectorID, bool) {
	lv := e.L.GetGlobal(name)
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return 0, false
	}
	if e.L.GetMetaField(tbl, "collector") == lua.LNil {
		return 0, false
	}
	return CollectorID(objectID(tbl)), true
}

// Collectors scans the script globals for named collector wrappers.
func (e *Engine) Collectors() map[string]CollectorID {
	found := make(map[string]CollectorID)
	globals := e.L.G.Global
	key := lua.LValue(lua.LNil)
	for {
		k, v := globals.Next(key)
		if k == lua.LNil {
			break
		}
		if name, ok := k.(lua.LString); ok {
			if tbl, ok := v.(*lua.LTable); ok && e.L.GetMetaField(tbl, "collector") != lua.LNil {
				found[string(name)] = CollectorID(objectID(tbl))
			}
		}
		key = k
	}
	return found
}
