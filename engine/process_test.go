package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/yllada/anonvpn/common"
)

// TestHelperProcess is not a real test. It stands in for the engine
// executable when invoked by helperEngine.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	input, _ := io.ReadAll(os.Stdin)
	if path := os.Getenv("HELPER_REQUEST_FILE"); path != "" {
		op := os.Args[len(os.Args)-1]
		_ = os.WriteFile(path, []byte(op+"\n"+string(input)), 0o600)
	}
	fmt.Fprintln(os.Stderr, "engine diagnostics")
	if d := os.Getenv("HELPER_SLEEP"); d != "" {
		dur, _ := time.ParseDuration(d)
		time.Sleep(dur)
	}
	if os.Getenv("HELPER_FAIL") == "1" {
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	}
	fmt.Fprint(os.Stdout, os.Getenv("HELPER_RESPONSE"))
}

func helperEngine(t *testing.T, response string, env ...string) (*ProcessEngine, string) {
	t.Helper()
	reqFile := filepath.Join(t.TempDir(), "request")
	e := NewProcessEngine(os.Args[0], "-test.run=TestHelperProcess", "--")
	e.Logger = common.NopLogger{}
	e.Timeout = 10 * time.Second
	e.Env = append([]string{
		"GO_WANT_HELPER_PROCESS=1",
		"HELPER_RESPONSE=" + response,
		"HELPER_REQUEST_FILE=" + reqFile,
	}, env...)
	return e, reqFile
}

func readRequest(t *testing.T, path string) (string, map[string]interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var op string
	var rest []byte
	for i, b := range data {
		if b == '\n' {
			op, rest = string(data[:i]), data[i+1:]
			break
		}
	}
	req := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rest, &req))
	return op, req
}

func connectionJSON(t *testing.T) string {
	t.Helper()
	client, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	server, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	c := VpnConnection{
		ClientAddresses:  []string{"10.64.0.2", "fd00:64::2"},
		ServerPublicKey:  server.PublicKey().String(),
		ServerEndpoint:   "198.51.100.7:51820",
		ClientPrivateKey: client.String(),
		ClientPublicKey:  client.PublicKey().String(),
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	return string(data)
}

func TestProcessEngine_NewStates(t *testing.T) {
	e, reqFile := helperEngine(t, `{"state":"blob-1"}`)

	cs, err := e.NewClientState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ClientState("blob-1"), cs)
	op, _ := readRequest(t, reqFile)
	assert.Equal(t, OpNewClientState, op)

	ss, err := e.NewServersState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ServersState("blob-1"), ss)
	op, _ = readRequest(t, reqFile)
	assert.Equal(t, OpNewServersState, op)
}

func TestProcessEngine_NewStateEmpty(t *testing.T) {
	e, _ := helperEngine(t, `{"state":""}`)
	_, err := e.NewClientState(context.Background())
	assert.ErrorIs(t, err, common.ErrParse)
}

func TestProcessEngine_Authenticate(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     AuthResult
		wantErr  error
	}{
		{"success", `{"client_state":"next"}`, Authenticated{ClientState: "next"}, nil},
		{"subscription", `{"subscription_required":true}`, SubscriptionRequired{}, nil},
		{"failure", `{"has_error":true,"error":"bad password"}`, AuthFailed{Reason: "bad password"}, nil},
		{"conflicting flags", `{"has_error":true,"subscription_required":true}`, nil, common.ErrParse},
		{"missing state", `{}`, nil, common.ErrParse},
		{"malformed", `{"client_state":`, nil, common.ErrParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, reqFile := helperEngine(t, tt.response)
			got, err := e.Authenticate(context.Background(), "alice", "secret", "prev")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			op, req := readRequest(t, reqFile)
			assert.Equal(t, OpAuthenticate, op)
			assert.Equal(t, "alice", req["username"])
			assert.Equal(t, "secret", req["password"])
			assert.Equal(t, "prev", req["client_state"])
		})
	}
}

func TestProcessEngine_RefreshOmitsCredentials(t *testing.T) {
	e, reqFile := helperEngine(t, `{"client_state":"next"}`)
	got, err := e.Refresh(context.Background(), "prev")
	require.NoError(t, err)
	assert.Equal(t, Authenticated{ClientState: "next"}, got)

	op, req := readRequest(t, reqFile)
	assert.Equal(t, OpRefresh, op)
	assert.NotContains(t, req, "username")
	assert.NotContains(t, req, "password")
}

func TestProcessEngine_GetServers(t *testing.T) {
	e, _ := helperEngine(t, `{"servers":["a","b"],"servers_state":{"has_update":true,"servers_state":"s2"}}`)
	got, err := e.GetServers(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.Servers)
	s, ok := got.Update.State()
	assert.True(t, ok)
	assert.Equal(t, ServersState("s2"), s)

	e, _ = helperEngine(t, `{"servers":["a"],"servers_state":{"has_update":false}}`)
	got, err = e.GetServers(context.Background(), "s1")
	require.NoError(t, err)
	_, ok = got.Update.State()
	assert.False(t, ok)

	e, _ = helperEngine(t, `{"servers":[],"servers_state":{"has_update":true}}`)
	_, err = e.GetServers(context.Background(), "s1")
	assert.ErrorIs(t, err, common.ErrParse)
}

func TestProcessEngine_Connect(t *testing.T) {
	conn := connectionJSON(t)

	t.Run("connected", func(t *testing.T) {
		resp := `{"vpn_connection":` + conn + `,"client_state":"c2","servers_state":{"has_update":true,"servers_state":"s2"}}`
		e, reqFile := helperEngine(t, resp)
		got, err := e.Connect(context.Background(), "srv", "c1", "s1")
		require.NoError(t, err)
		c, ok := got.(Connected)
		require.True(t, ok, "got %T", got)
		assert.Equal(t, ClientState("c2"), c.ClientState)
		assert.Equal(t, "198.51.100.7:51820", c.Connection.ServerEndpoint)
		s, updated := c.Servers.State()
		assert.True(t, updated)
		assert.Equal(t, ServersState("s2"), s)

		op, req := readRequest(t, reqFile)
		assert.Equal(t, OpConnect, op)
		assert.Equal(t, "srv", req["server"])
		assert.Equal(t, "c1", req["client_state"])
		assert.Equal(t, "s1", req["servers_state"])
	})

	t.Run("descriptor as string", func(t *testing.T) {
		quoted, err := json.Marshal(conn)
		require.NoError(t, err)
		e, _ := helperEngine(t, `{"vpn_connection":`+string(quoted)+`,"client_state":"c2"}`)
		got, err := e.Connect(context.Background(), "srv", "c1", "s1")
		require.NoError(t, err)
		assert.IsType(t, Connected{}, got)
	})

	variants := []struct {
		name     string
		response string
		want     ConnectResult
	}{
		{"failed", `{"has_error":true,"error":"timeout"}`, ConnectFailed{Reason: "timeout"}},
		{"auth required", `{"auth_required":true}`, AuthRequired{}},
		{"subscription required", `{"subscription_required":true}`, SubscriptionRequired{}},
	}
	for _, tt := range variants {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := helperEngine(t, tt.response)
			got, err := e.Connect(context.Background(), "srv", "c1", "s1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	malformed := []string{
		`{"has_error":true,"auth_required":true}`,
		`{"client_state":"c2"}`,
		`{"vpn_connection":null,"client_state":"c2"}`,
		`{"vpn_connection":` + conn + `}`,
		`{"vpn_connection":{"wg_endpoint":"x"},"client_state":"c2"}`,
	}
	for i, resp := range malformed {
		t.Run(fmt.Sprintf("malformed-%d", i), func(t *testing.T) {
			e, _ := helperEngine(t, resp)
			_, err := e.Connect(context.Background(), "srv", "c1", "s1")
			assert.ErrorIs(t, err, common.ErrParse)
		})
	}
}

func TestProcessEngine_ExecFailure(t *testing.T) {
	e, _ := helperEngine(t, "", "HELPER_FAIL=1")
	_, err := e.Refresh(context.Background(), "prev")
	assert.ErrorIs(t, err, common.ErrEngine)
}

func TestProcessEngine_Timeout(t *testing.T) {
	e, _ := helperEngine(t, `{"state":"x"}`, "HELPER_SLEEP=5s")
	e.Timeout = 200 * time.Millisecond
	_, err := e.NewClientState(context.Background())
	assert.ErrorIs(t, err, common.ErrTimeout)
}

func TestProcessEngine_NoCommand(t *testing.T) {
	e := &ProcessEngine{}
	_, err := e.NewClientState(context.Background())
	assert.ErrorIs(t, err, common.ErrEngine)
}
