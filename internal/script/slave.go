package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Slave is the per-worker script context: its own interpreter plus the
// deserialization cache used to rebuild the engine's hooks. A slave
// belongs to exactly one worker; only collector reads happen after the
// worker has been joined.
type Slave struct {
	engine *Engine
	L      *lua.LState
	cache  *UpvalueCache
	hooks  [numHooks]*lua.LFunction
}

// NewSlave clones the engine's hooks onto a fresh interpreter. Hooks that
// shared upvalues on the master share them again on this slave, so
// per-thread counters aggregate within a worker.
func NewSlave(e *Engine) (*Slave, error) {
	if err := e.snapshotHooks(); err != nil {
		return nil, err
	}
	s := &Slave{
		engine: e,
		L:      lua.NewState(),
		cache:  NewUpvalueCache(),
	}
	registerQueryGlobals(s.L, e.isClient, e.numThreads)
	registerDiscardHookGlobals(s.L)
	for h := Hook(0); h < numHooks; h++ {
		sf := e.serialized[h]
		if sf == nil {
			continue
		}
		fn, err := s.cache.DeserializeFunction(s.L, sf)
		if err != nil {
			s.L.Close()
			return nil, fmt.Errorf("script: deserialize %s hook: %w", h, err)
		}
		s.hooks[h] = fn
	}
	return s, nil
}

// registerDiscardHookGlobals installs no-op registration functions so a
// hook body that re-registers does not blow up on an unknown global.
func registerDiscardHookGlobals(L *lua.LState) {
	discard := L.NewFunction(func(L *lua.LState) int {
		L.CheckFunction(1)
		return 0
	})
	for _, name := range hookNames {
		L.SetGlobal("client_"+name, discard)
		L.SetGlobal("server_"+name, discard)
	}
}

// Close tears down the slave interpreter.
func (s *Slave) Close() {
	s.L.Close()
}

// call invokes one hook. A missing hook is a no-op returning 0; a numeric
// return value is truncated to int, anything else reads as 0.
func (s *Slave) call(h Hook, args ...lua.LValue) (int, error) {
	fn := s.hooks[h]
	if fn == nil {
		return 0, nil
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return 0, fmt.Errorf("script: %s hook: %w", h, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		return int(n), nil
	}
	return 0, nil
}

// SocketHook runs on clients after a data socket is created, before options
// are set; on servers it runs on the listening socket and on each accepted
// socket after their options are set.
func (s *Slave) SocketHook(fd int) (int, error) {
	return s.call(HookSocket, lua.LNumber(fd))
}

// CloseHook runs when a flow is torn down.
func (s *Slave) CloseHook(fd int) (int, error) {
	return s.call(HookClose, lua.LNumber(fd))
}

// SendmsgHook runs on output readiness with the writable byte budget.
func (s *Slave) SendmsgHook(fd, n int) (int, error) {
	return s.call(HookSendmsg, lua.LNumber(fd), lua.LNumber(n))
}

// RecvmsgHook runs on input readiness with the readable byte budget.
func (s *Slave) RecvmsgHook(fd, n int) (int, error) {
	return s.call(HookRecvmsg, lua.LNumber(fd), lua.LNumber(n))
}

// RecverrHook runs on priority readiness (error queue).
func (s *Slave) RecverrHook(fd, n int) (int, error) {
	return s.call(HookRecverr, lua.LNumber(fd), lua.LNumber(n))
}

// CollectedValue reads the current value at the location the collector
// marks on this slave's interpreter. Unknown collectors return nil.
func (s *Slave) CollectedValue(id CollectorID) (Value, error) {
	return s.cache.CollectedValue(s.L, id)
}
