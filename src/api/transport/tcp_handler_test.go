package transport

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

func TestTCPControllerListenAndAccept(t *testing.T) {
	handler := NewTCPController("localhost:0")

	if err := handler.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}

	// Verify we can connect to it
	conn, err := net.DialTimeout("tcp", handler.Address(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect to handler: %v", err)
	}
	conn.Close()

	if err := handler.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestTCPControllerSendReceive(t *testing.T) {
	server := NewTCPController("localhost:0")
	if err := server.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}
	defer server.Close()

	client := NewTCPController("localhost:0")
	if err := client.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}
	defer client.Close()

	requests := server.Inbound(KVRequestType)
	other := server.Inbound(KVResponseType)

	sender, err := client.Outbound(server.Address(), KVRequestType)
	if err != nil {
		t.Fatalf("Outbound failed: %v", err)
	}
	if err := sender.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case received := <-requests:
		if received == nil {
			t.Fatal("Received nil message")
		}
		if received.Type != KVRequestType {
			t.Errorf("Expected type %q, got %q", KVRequestType, received.Type)
		}
		if string(received.Payload) != "hello" {
			t.Errorf("Expected payload 'hello', got '%s'", received.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for message")
	}

	select {
	case msg := <-other:
		t.Fatalf("message routed to wrong type channel: %+v", msg)
	default:
	}
}

func TestTCPControllerRawFrame(t *testing.T) {
	server := NewTCPController("localhost:0")
	if err := server.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}
	defer server.Close()

	conn, err := net.DialTimeout("tcp", server.Address(), 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	encoded, err := DefaultCoder{}.Encode(&Message{Type: KVRequestType, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Failed to encode message: %v", err)
	}
	// two frames in one write exercise the stream reader
	if _, err := conn.Write(append(encoded, encoded...)); err != nil {
		t.Fatalf("Failed to write frames: %v", err)
	}

	inbound := server.Inbound(KVRequestType)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-inbound:
			if !bytes.Equal(msg.Payload, []byte{1, 2, 3}) {
				t.Fatalf("frame %d payload = %v", i, msg.Payload)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("Timed out waiting for frame %d", i)
		}
	}
}

func TestTCPControllerCloseClosesInbound(t *testing.T) {
	server := NewTCPController("localhost:0")
	if err := server.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}
	inbound := server.Inbound(KVRequestType)

	if err := server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-inbound:
		if ok {
			t.Fatal("expected closed inbound channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("inbound channel not closed")
	}

	if _, err := server.Outbound("localhost:1", KVResponseType); !errors.Is(err, ErrFabricClosed) {
		t.Fatalf("Outbound after Close: got %v, want ErrFabricClosed", err)
	}
}

func TestTCPSenderDialFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	client := NewTCPController("localhost:0")
	defer client.Close()

	sender, err := client.Outbound(addr, KVResponseType)
	if err != nil {
		t.Fatalf("Outbound failed: %v", err)
	}
	if err := sender.Send([]byte("x")); err == nil {
		t.Fatal("Send to closed port succeeded, want error")
	}
}

func TestTCPSenderRacingCloseDoesNotDial(t *testing.T) {
	target := NewTCPController("localhost:0")
	if err := target.ListenAndAccept(); err != nil {
		t.Fatalf("ListenAndAccept failed: %v", err)
	}
	defer target.Close()

	client := NewTCPController("localhost:0")
	s, err := client.Outbound(target.Address(), KVRequestType)
	if err != nil {
		t.Fatalf("Outbound failed: %v", err)
	}
	sender := s.(*tcpSender)

	// park Send on the peer lock, then start Close underneath it
	sender.peer.mu.Lock()
	sent := make(chan error, 1)
	go func() { sent <- sender.Send([]byte("late")) }()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		client.Close()
		close(closed)
	}()
	<-client.exit
	sender.peer.mu.Unlock()

	select {
	case err := <-sent:
		if !errors.Is(err, ErrFabricClosed) {
			t.Fatalf("Send during Close: got %v, want ErrFabricClosed", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Send never returned")
	}
	<-closed

	sender.peer.mu.Lock()
	defer sender.peer.mu.Unlock()
	if sender.peer.conn != nil {
		t.Fatal("Send left a connection open after Close")
	}
}
