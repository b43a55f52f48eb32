package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexuscore/nexuscore/internal/bus"
	"github.com/nexuscore/nexuscore/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *bus.Bus, string) {
	t.Helper()
	b := bus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Stop(ctx)
	})

	addr := filepath.Join(t.TempDir(), "agent.sock")
	srv := New(Config{Network: "unix", Address: addr}, b, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, b, addr
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, bufio.NewReader(conn)
}

func TestServerSendsHelloOnConnect(t *testing.T) {
	_, _, addr := newTestServer(t)
	conn, reader := dial(t, addr)
	defer conn.Close()

	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello helloFrame
	if err := json.Unmarshal(line, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.Type != "system:hello" || hello.ClientID != "client-1" {
		t.Fatalf("unexpected hello frame: %+v", hello)
	}
}

func TestServerTranslatesInboundLineToUserInput(t *testing.T) {
	_, b, addr := newTestServer(t)
	conn, reader := dial(t, addr)
	defer conn.Close()
	reader.ReadBytes('\n') // hello

	received := make(chan models.Event, 1)
	b.Subscribe(models.EventUserInput, func(_ context.Context, e models.Event) error {
		received <- e
		return nil
	})

	frame := inboundFrame{Type: "user:input", Content: map[string]any{"text": "hello", "requestId": "req-1"}}
	data, _ := json.Marshal(frame)
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case e := <-received:
		content, ok := e.Content.(models.UserInputContent)
		if !ok || content.Text != "hello" || content.RequestID != "req-1" {
			t.Fatalf("unexpected content: %+v", e.Content)
		}
		if e.SessionID != "client-1" {
			t.Fatalf("expected sessionId client-1, got %s", e.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for user:input event")
	}
}

func TestServerRoutesResponseToOwningClient(t *testing.T) {
	_, b, addr := newTestServer(t)
	conn, reader := dial(t, addr)
	defer conn.Close()
	reader.ReadBytes('\n') // hello

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := b.Emit(ctx, models.Event{
		Type:      models.EventAgentResponse,
		SessionID: "client-1",
		Content:   models.AgentResponseContent{Text: "hi", FinishReason: "stop"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var out outboundFrame
	if err := json.Unmarshal(line, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != string(models.EventAgentResponse) || out.ClientID != "client-1" {
		t.Fatalf("unexpected outbound frame: %+v", out)
	}
}

func TestServerDoesNotRouteNonOutboundEvents(t *testing.T) {
	_, b, addr := newTestServer(t)
	conn, reader := dial(t, addr)
	defer conn.Close()
	reader.ReadBytes('\n') // hello

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = b.Emit(ctx, models.Event{
		Type:      models.EventWorkflowRunStart,
		SessionID: "client-1",
		Content:   models.WorkflowRunStartContent{RunID: 1, WorkflowID: "demo"},
	})

	// Follow with an outbound event so we have a deterministic line to
	// read; if the non-outbound event had been forwarded it would have
	// arrived first.
	_, _ = b.Emit(ctx, models.Event{
		Type:      models.EventAgentResponse,
		SessionID: "client-1",
		Content:   models.AgentResponseContent{Text: "done", FinishReason: "stop"},
	})

	line, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out outboundFrame
	if err := json.Unmarshal(line, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != string(models.EventAgentResponse) {
		t.Fatalf("expected only the outbound agent:response to arrive, got %q", out.Type)
	}
}
