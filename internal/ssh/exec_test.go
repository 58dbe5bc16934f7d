package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	gssh "golang.org/x/crypto/ssh"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// newClientKey 生成客户端私钥 PEM 与对应公钥
func newClientKey(t *testing.T) ([]byte, gssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := gssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := gssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(block), sshPub
}

// startTestServer 起一个只支持 exec 的最小 SSH 服务端
func startTestServer(t *testing.T, authorized gssh.PublicKey, handle func(cmd string) (string, uint32)) domain.RemoteTarget {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := gssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &gssh.ServerConfig{
		PublicKeyCallback: func(_ gssh.ConnMetadata, k gssh.PublicKey) (*gssh.Permissions, error) {
			if bytes.Equal(k.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(hostSigner)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg, handle)
		}
	}()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return domain.RemoteTarget{Host: host, Port: port, User: "rin"}
}

func serveConn(nc net.Conn, cfg *gssh.ServerConfig, handle func(string) (string, uint32)) {
	_, chans, reqs, err := gssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	go gssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(gssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = gssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				out, status := handle(payload.Command)
				_, _ = ch.Write([]byte(out))
				_, _ = ch.SendRequest("exit-status", false, gssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestClient_ExecAndReuse(t *testing.T) {
	keyPEM, pub := newClientKey(t)
	target := startTestServer(t, pub, func(cmd string) (string, uint32) {
		if strings.HasPrefix(cmd, "fail") {
			return "boom\n", 3
		}
		return "ran:" + cmd, 0
	})
	c := NewClient(func() ([]byte, error) { return keyPEM, nil }, 2*time.Second, nil)
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := c.Connect(ctx, target)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	out, status, err := conn.Exec(ctx, "whoami")
	if err != nil || status != 0 || string(out) != "ran:whoami" {
		t.Fatalf("exec got %q %d %v", out, status, err)
	}
	out, status, err = conn.Exec(ctx, "fail now")
	if err != nil || status != 3 || string(out) != "boom\n" {
		t.Fatalf("failing exec got %q %d %v", out, status, err)
	}
	if _, err := c.Connect(ctx, target); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if c.pool.Len() != 1 {
		t.Fatalf("expected pooled connection to be reused, pool=%d", c.pool.Len())
	}
}

func TestClient_KeyErrors(t *testing.T) {
	keyPEM, _ := newClientKey(t)
	_, otherPub := newClientKey(t)
	target := startTestServer(t, otherPub, func(string) (string, uint32) { return "", 0 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	missing := NewClient(func() ([]byte, error) { return nil, ErrKeyNotConfigured }, time.Second, nil)
	if _, err := missing.Connect(ctx, target); !errors.Is(err, ErrKeyNotConfigured) {
		t.Fatalf("expected ErrKeyNotConfigured, got %v", err)
	}
	denied := NewClient(func() ([]byte, error) { return keyPEM, nil }, time.Second, nil)
	if _, err := denied.Connect(ctx, target); err == nil {
		t.Fatalf("expected auth failure with unauthorized key")
	}
}
