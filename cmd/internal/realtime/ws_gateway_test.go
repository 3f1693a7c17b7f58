package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"assist/cmd/internal/auth/gate"
	"assist/cmd/security/token"
	v1 "assist/shared/contracts/realtime/v1"
)

type gatewayFixture struct {
	srv      *httptest.Server
	registry *Registry
	metrics  *Metrics
	codec    token.Codec
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	codec := testCodec(t)
	reg, m := newTestRegistry(t)
	authn := gate.NewAuthenticator(codec, "assist_session", gate.WithLogger(discardLogger()))

	gw, err := NewGateway(reg, authn, WithGatewayLogger(discardLogger()))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &gatewayFixture{srv: srv, registry: reg, metrics: m, codec: codec}
}

func (f *gatewayFixture) url(query string) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string, opts *websocket.DialOptions) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env v1.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(raw)))
}

func readCloseStatus(t *testing.T, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func TestGateway_RejectsMissingAndInvalidTokens(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	for _, query := range []string{"", "token=garbage"} {
		conn := dial(t, f.url(query), nil)
		require.Equal(t, websocket.StatusPolicyViolation, readCloseStatus(t, conn), query)
	}
	require.Equal(t, 0, f.registry.Len())
}

func TestGateway_ConnectedAckAndDispatch(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	tok := issueToken(t, f.codec, "subj-1", "professional")
	conn := dial(t, f.url("token="+tok), nil)

	ack := readEnvelope(t, conn)
	require.Equal(t, v1.TypeConnected, ack.Type)
	require.False(t, ack.TS.IsZero())
	var cp v1.ConnectedPayload
	require.NoError(t, ack.Decode(&cp))
	require.Equal(t, v1.ConnectedPayload{SubjectID: "subj-1", Role: "professional"}, cp)

	// Unknown types are dropped without closing the connection.
	writeEnvelope(t, conn, `{"type":"chat.send","text":"hi"}`)
	writeEnvelope(t, conn, `not json`)

	writeEnvelope(t, conn, `{"type":"ping"}`)
	require.Equal(t, v1.TypePong, readEnvelope(t, conn).Type)

	writeEnvelope(t, conn, `{"type":"subscribe","channels":["agenda"," agenda ","", "alerts"]}`)
	sub := readEnvelope(t, conn)
	require.Equal(t, v1.TypeSubscribed, sub.Type)
	var sp v1.SubscribedPayload
	require.NoError(t, sub.Decode(&sp))
	require.Equal(t, []string{"agenda", "alerts"}, sp.Channels)

	require.True(t, f.registry.SendToSubject("subj-1", notice("appointment.reminder")))
	require.Equal(t, "appointment.reminder", readEnvelope(t, conn).Type)
}

func TestGateway_BearerHeaderAndCookie(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	bearer := dial(t, f.url(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Bearer " + issueToken(t, f.codec, "b1", "user")}},
	})
	require.Equal(t, v1.TypeConnected, readEnvelope(t, bearer).Type)

	cookie := dial(t, f.url(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Cookie": {"assist_session=" + issueToken(t, f.codec, "c1", "user")}},
	})
	require.Equal(t, v1.TypeConnected, readEnvelope(t, cookie).Type)

	require.Eventually(t, func() bool { return f.registry.Len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestGateway_NewConnectionSupersedesOld(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)
	tok := issueToken(t, f.codec, "dup", "user")

	first := dial(t, f.url("token="+tok), nil)
	require.Equal(t, v1.TypeConnected, readEnvelope(t, first).Type)

	second := dial(t, f.url("token="+tok), nil)
	require.Equal(t, v1.TypeConnected, readEnvelope(t, second).Type)

	require.Equal(t, websocket.StatusNormalClosure, readCloseStatus(t, first))

	require.True(t, f.registry.SendToSubject("dup", notice("only.newest")))
	require.Equal(t, "only.newest", readEnvelope(t, second).Type)
	require.Equal(t, 1, f.registry.Len())
}

func TestGateway_ClientCloseUnregisters(t *testing.T) {
	t.Parallel()
	f := newGatewayFixture(t)

	conn := dial(t, f.url("token="+issueToken(t, f.codec, "gone", "user")), nil)
	require.Equal(t, v1.TypeConnected, readEnvelope(t, conn).Type)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
