// Package main provides a CI-friendly smoke test for the assist realtime gateway.
//
// It validates:
//   - account registration for a user and a professional
//   - websocket handshake with a bearer token and the connected ack
//   - ping/pong and subscribe round trips
//   - a professional notification pushed to the connected user
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "assist/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 16

type session struct {
	User struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Token string `json:"token"`
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "HTTP base URL of the assist server")
		origin   = flag.String("origin", "", "Origin header to send on the websocket handshake")
		password = flag.String("password", "smoke-Passw0rd!", "Password used for the throwaway accounts")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(strings.TrimRight(*baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -base: %q", *baseURL)
	}

	root := context.Background()
	suffix := time.Now().UTC().Format("20060102150405.000000000")

	user := mustRegister(root, base, "smoke-user-"+suffix+"@example.com", *password, "user", *timeout)
	pro := mustRegister(root, base, "smoke-pro-"+suffix+"@example.com", *password, "professional", *timeout)
	if *verbose {
		fmt.Printf("registered: user=%s professional=%s\n", user.User.ID, pro.User.ID)
	}

	conn := mustDial(root, base, user.Token, *origin, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ack := mustRead(root, conn, v1.TypeConnected, *timeout)
	var cp v1.ConnectedPayload
	if err := ack.Decode(&cp); err != nil || cp.SubjectID != user.User.ID {
		fatalf("connected ack: subject=%q err=%v", cp.SubjectID, err)
	}

	mustWrite(root, conn, v1.TypePing, nil, *timeout)
	mustRead(root, conn, v1.TypePong, *timeout)

	mustWrite(root, conn, v1.TypeSubscribe, v1.SubscribePayload{Channels: []string{"alerts"}}, *timeout)
	mustRead(root, conn, v1.TypeSubscribed, *timeout)

	delivered := mustNotify(root, base, pro.Token, user.User.ID, *timeout)
	if delivered != 1 {
		fatalf("notify: delivered=%d want 1", delivered)
	}
	got := mustRead(root, conn, "smoke.notice", *timeout)

	fmt.Printf("OK: user=%s professional=%s notification_id=%s\n", user.User.ID, pro.User.ID, got.ID)
}

func mustRegister(parent context.Context, base *url.URL, email, password, role string, stepTimeout time.Duration) session {
	body := map[string]string{
		"email":        email,
		"password":     password,
		"display_name": "Smoke " + role,
		"role":         role,
	}
	var out session
	status := mustPostJSON(parent, base.String()+"/api/auth/register", "", body, &out, stepTimeout)
	if status != http.StatusCreated {
		fatalf("register %s: status=%d", role, status)
	}
	if out.Token == "" || out.User.ID == "" {
		fatalf("register %s: empty session", role)
	}
	return out
}

func mustNotify(parent context.Context, base *url.URL, token, subjectID string, stepTimeout time.Duration) int {
	body := map[string]any{
		"subject_id": subjectID,
		"type":       "smoke.notice",
		"data":       map[string]string{"text": "hello from smoke"},
	}
	var out struct {
		Delivered int `json:"delivered"`
	}
	status := mustPostJSON(parent, base.String()+"/api/notifications", token, body, &out, stepTimeout)
	if status != http.StatusOK {
		fatalf("notify: status=%d", status)
	}
	return out.Delivered
}

func mustPostJSON(parent context.Context, target, bearer string, body, dst any, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("post %s: %v", target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("read %s: %v", target, err)
	}
	if resp.StatusCode < 300 && dst != nil {
		if err := json.Unmarshal(raw, dst); err != nil {
			fatalf("decode %s: %v", target, err)
		}
	}
	return resp.StatusCode
}

func mustDial(parent context.Context, base *url.URL, token, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", wsURL.String(), err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	env, err := v1.New(typ, "", time.Time{}, payload)
	if err != nil {
		fatalf("build %s: %v", typ, err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", typ, err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", typ, err)
	}
}

// mustRead skips unrelated pushes until an envelope of type want arrives.
func mustRead(parent context.Context, conn *websocket.Conn, want string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fatalf("timeout waiting for %q", want)
			}
			fatalf("read (waiting for %q): %v", want, err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			fatalf("bad json: %v", err)
		}
		if env.Type == want {
			return env
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
