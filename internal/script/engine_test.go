package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{IsClient: true})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func newClientSlave(t *testing.T, e *Engine) *Slave {
	t.Helper()
	s, err := NewSlave(e)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCreateEngine(t *testing.T) {
	e, err := NewEngine(Config{IsClient: false})
	require.NoError(t, err)
	require.NotNil(t, e)
	e.Close()
}

func TestCreateSlave(t *testing.T) {
	e := newClientEngine(t)
	s, err := NewSlave(e)
	require.NoError(t, err)
	require.NotNil(t, s)
	s.Close()
}

func TestHooksRunWithoutErrors(t *testing.T) {
	e := newClientEngine(t)

	statements := []string{
		"client_socket(function () end)",
		"client_close(function () end)",
		"client_sendmsg(function () end)",
		"client_recvmsg(function () end)",
		"client_recverr(function () end)",
		"server_socket(function () end)",
		"server_close(function () end)",
		"server_sendmsg(function () end)",
		"server_recvmsg(function () end)",
		"server_recverr(function () end)",
		"is_client()",
		"is_server()",
		"tid_iter()",
	}
	for _, stmt := range statements {
		require.NoError(t, e.RunString(stmt, nil), "statement %q", stmt)
	}
}

func TestWaitFuncGetsCalled(t *testing.T) {
	e := newClientEngine(t)

	waitDone := false
	require.NoError(t, e.RunString("", func() { waitDone = true }))
	assert.True(t, waitDone)
}

func TestRunSocketHookFromString(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_socket( function () return 42 end )", nil))

	s := newClientSlave(t, e)
	r, err := s.SocketHook(-1)
	require.NoError(t, err)
	assert.Equal(t, 42, r)
}

func TestRunSocketHookFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socket_hook.lua")
	err := os.WriteFile(path, []byte("client_socket( function () return 42 end )"), 0o644)
	require.NoError(t, err)

	e := newClientEngine(t)
	require.NoError(t, e.RunFile(path, nil))

	s := newClientSlave(t, e)
	r, err := s.SocketHook(-1)
	require.NoError(t, err)
	assert.Equal(t, 42, r)
}

func TestRunCloseHook(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_close( function () return 42 end )", nil))

	s := newClientSlave(t, e)
	r, err := s.CloseHook(-1)
	require.NoError(t, err)
	assert.Equal(t, 42, r)
}

func TestRunSendmsgHook(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_sendmsg( function () return 11015 end )", nil))

	s := newClientSlave(t, e)
	r, err := s.SendmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 11015, r)
}

func TestRunRecvmsgHook(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_recvmsg( function () return 28139 end )", nil))

	s := newClientSlave(t, e)
	r, err := s.RecvmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 28139, r)
}

func TestRunRecverrHook(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_recverr( function () return 7193 end )", nil))

	s := newClientSlave(t, e)
	r, err := s.RecverrHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 7193, r)
}

func TestMissingHookIsNoOp(t *testing.T) {
	e := newClientEngine(t)
	s := newClientSlave(t, e)

	r, err := s.SendmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, r)
}

func TestServerEngineIgnoresClientHooks(t *testing.T) {
	e, err := NewEngine(Config{IsClient: false})
	require.NoError(t, err)
	defer e.Close()

	script := `
client_sendmsg( function () return 1 end )
server_sendmsg( function () return 2 end )
`
	require.NoError(t, e.RunString(script, nil))

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	r, err := s.SendmsgHook(-1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, r)
}

func TestIsClientQuery(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString(`
client_socket(function ()
	if is_client() and not is_server() then return 1 end
	return 0
end)
`, nil))

	s := newClientSlave(t, e)
	r, err := s.SocketHook(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, r)
}

func TestTidIter(t *testing.T) {
	e, err := NewEngine(Config{IsClient: true, NumThreads: 4})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.RunString(`
client_socket(function ()
	local n = 0
	for tid in tid_iter() do n = n + tid end
	return n
end)
`, nil))

	s, err := NewSlave(e)
	require.NoError(t, err)
	defer s.Close()

	r, err := s.SocketHook(-1)
	require.NoError(t, err)
	assert.Equal(t, 0+1+2+3, r)
}

func TestRunStringLoadError(t *testing.T) {
	e := newClientEngine(t)
	assert.Error(t, e.RunString("this is not lua ((", nil))
}

func TestHookRuntimeErrorSurfaces(t *testing.T) {
	e := newClientEngine(t)
	require.NoError(t, e.RunString("client_sendmsg( function () error('boom') end )", nil))

	s := newClientSlave(t, e)
	_, err := s.SendmsgHook(-1, 0)
	assert.Error(t, err)
}
