package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/server"
	"github.com/example/go-voicevox-core/internal/synth"
	"github.com/example/go-voicevox-core/internal/testutil"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

// freeAddr returns a loopback address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startServer runs a server on a free port until the returned stop func is
// called. stop fails the test unless Start returns nil promptly.
func startServer(t *testing.T, a *synth.Async) (addr string, stop func()) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = freeAddr(t)
	s := server.New(cfg, a).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	var err error
	for range 50 {
		if err = server.ProbeHTTP(cfg.Server.ListenAddr); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("server never became ready: %v", err)
	}

	return cfg.Server.ListenAddr, func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("Start() returned error on shutdown: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Start() did not return within 5s of context cancel")
		}
	}
}

func TestStart_LifecycleHealthAndShutdown(t *testing.T) {
	addr, stop := startServer(t, newEngine(t))

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d; want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q; want ok", body["status"])
	}

	stop()

	if err := server.ProbeHTTP(addr); err == nil {
		t.Error("ProbeHTTP after shutdown = nil; want error")
	}
}

func TestStart_ServesLoadedModel(t *testing.T) {
	a := newEngine(t)
	addr, stop := startServer(t, a)
	defer stop()

	resp, err := http.Get(fmt.Sprintf("http://%s/speakers", addr))
	if err != nil {
		t.Fatalf("GET /speakers: %v", err)
	}
	var metas []voicemodel.CharacterMeta
	err = json.NewDecoder(resp.Body).Decode(&metas)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode /speakers: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("len(speakers) = %d; want 2", len(metas))
	}

	resp, err = http.Post(fmt.Sprintf("http://%s/synthesis?speaker=1", addr), "application/json",
		bytes.NewReader(queryJSON(t, a)))
	if err != nil {
		t.Fatalf("POST /synthesis: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/synthesis status = %d; want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q; want audio/wav", ct)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	testutil.AssertWAVFormat(t, wav, 24000, 1)
}

func TestStart_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := config.DefaultConfig()
	cfg.Server.ListenAddr = ln.Addr().String()

	err = server.New(cfg, newEngine(t)).Start(context.Background())
	if err == nil {
		t.Fatal("Start() = nil; want error for an address in use")
	}
}
