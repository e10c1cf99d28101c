package router_test

import (
	"context"
	"sync"
	"testing"

	"github.com/a-essam23/chirp-relay/internal/relay"
	"github.com/a-essam23/chirp-relay/internal/router"
	"github.com/a-essam23/chirp-relay/pkg/logging"
	"github.com/a-essam23/chirp-relay/pkg/protocol"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	mu   sync.Mutex
	reqs []relay.Request
}

func (f *fakeCore) Submit(req relay.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return true
}

func newTestRouter(t *testing.T, rate string) (*router.FrameRouter, *fakeCore) {
	t.Helper()
	limiter, err := router.NewRateLimiter(rate)
	require.NoError(t, err)
	core := &fakeCore{}
	return router.NewFrameRouter(logging.Discard(), core, limiter, nil), core
}

func TestHandleMessageDecodesCommands(t *testing.T) {
	conn := uuid.New()
	token := "tok"
	link := "https://example.org/a.png"

	tests := []struct {
		name  string
		frame string
		want  relay.Request
	}{
		{
			name:  "create",
			frame: `/create-new-user {"user_id":0,"user_name":"alice","image_link":"https://example.org/a.png"}`,
			want:  relay.CreateUser{Conn: conn, Profile: protocol.FullUserData{UserName: "alice", ImageLink: &link}},
		},
		{
			name:  "reconnect",
			frame: `/reconnect-user {"user_id":7,"owner_id":7,"user_token":null}`,
			want:  relay.ReconnectUser{Conn: conn, Identity: state.Identity{UserID: 7, OwnerID: 7}},
		},
		{
			name:  "update ids",
			frame: `/update-ids {"user_id":8,"owner_id":7,"user_token":"tok"}`,
			want:  relay.UpdateIDs{Conn: conn, Identity: state.Identity{UserID: 8, OwnerID: 7, UserToken: &token}},
		},
		{
			name:  "message",
			frame: `/message {"from_user":7,"to_user":8,"message":"hi there"}`,
			want:  relay.RouteMessage{Conn: conn, From: 7, To: 8, Body: `{"from_user":7,"to_user":8,"message":"hi there"}`},
		},
		{
			name:  "name",
			frame: `/name-updated {"new_name":"Alice B","user_token":"tok"}`,
			want:  relay.UpdateName{Conn: conn, Name: "Alice B", Token: &token},
		},
		{
			name:  "image",
			frame: `/image-updated {"image_link":"https://example.org/a.png","user_token":null}`,
			want:  relay.UpdateImage{Conn: conn, Link: link},
		},
		{
			name:  "get user data",
			frame: `/get-user-data {"user_id":8,"user_token":"tok"}`,
			want:  relay.SendUserData{Conn: conn, Target: 8, Token: &token},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, core := newTestRouter(t, "")
			r.HandleMessage(context.Background(), conn, []byte(tt.frame))
			require.Equal(t, []relay.Request{tt.want}, core.reqs)
		})
	}
}

func TestHandleMessageDropsBadFrames(t *testing.T) {
	frames := []string{
		"",
		"/message",
		"/unknown {}",
		`/message {"from_user":"seven","to_user":8}`,
		`/message {"from_user":7}`,
		`/message not json`,
		`/update-ids {broken`,
	}
	r, core := newTestRouter(t, "")
	for _, f := range frames {
		require.NotPanics(t, func() {
			r.HandleMessage(context.Background(), uuid.New(), []byte(f))
		})
	}
	require.Empty(t, core.reqs)
}

func TestHandleMessageRateLimit(t *testing.T) {
	r, core := newTestRouter(t, "2/h")
	conn := uuid.New()
	frame := []byte(`/update-ids {"user_id":8,"owner_id":7}`)

	for i := 0; i < 5; i++ {
		r.HandleMessage(context.Background(), conn, frame)
	}
	require.Len(t, core.reqs, 2)

	r.Forget(conn)
	r.HandleMessage(context.Background(), conn, frame)
	require.Len(t, core.reqs, 3)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := router.NewRegistry()
	router.RegisterCoreCommands(reg)
	_, ok := reg.Lookup(protocol.CmdMessage)
	require.True(t, ok)
	require.Panics(t, func() { router.RegisterCoreCommands(reg) })
}
