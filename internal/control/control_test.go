package control

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct{}

func (echoHandler) Handle(req Request) Response {
	if req.Verb == "" {
		return Response{OK: false, Message: "missing verb", Code: ExitMisconfigured}
	}
	return Response{OK: true, Message: "handled " + req.Verb, Code: ExitOK}
}

func TestServerClientRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "engine.sock")

	srv, err := NewServer(sockPath, echoHandler{})
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	client := NewClient(sockPath)
	resp, err := client.Send(Request{Verb: "start", User: "u1"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "handled start", resp.Message)
	assert.Equal(t, ExitOK, resp.Code)
}

func TestServerReturnsMisconfiguredOnBadVerb(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "engine.sock")

	srv, err := NewServer(sockPath, echoHandler{})
	require.NoError(t, err)
	go srv.Serve()
	defer srv.Close()

	client := NewClient(sockPath)
	resp, err := client.Send(Request{})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, ExitMisconfigured, resp.Code)
}
