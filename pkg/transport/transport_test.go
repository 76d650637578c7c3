package transport

import (
	"bytes"
	"net"
	"testing"
)

func TestPlaintextFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	payload := []byte("hello companion")
	done := make(chan error, 1)
	go func() { done <- cc.WriteFrame(UnencryptedOPACK, payload) }()

	gotType, gotPayload, err := sc.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if gotType != UnencryptedOPACK {
		t.Fatalf("frame type = %v, want %v", gotType, UnencryptedOPACK)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestEmptyPayloadFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	done := make(chan error, 1)
	go func() { done <- cc.WriteFrame(NoOp, nil) }()

	gotType, gotPayload, err := sc.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if gotType != NoOp {
		t.Fatalf("frame type = %v, want NoOp", gotType)
	}
	if len(gotPayload) != 0 {
		t.Fatalf("payload = %q, want empty", gotPayload)
	}
}

func TestKeyedFrameRoundTripAndNonceAdvances(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	var clientTx, clientRx, serverTx, serverRx [32]byte
	for i := range clientTx {
		clientTx[i] = byte(i)
		clientRx[i] = byte(i + 1)
	}
	serverTx, serverRx = clientRx, clientTx

	cc.InstallKeys(clientTx, clientRx)
	sc.InstallKeys(serverTx, serverRx)

	messages := [][]byte{[]byte("first frame"), []byte("second frame")}
	for _, msg := range messages {
		done := make(chan error, 1)
		go func(m []byte) { done <- cc.WriteFrame(EncryptedOPACK, m) }(msg)

		gotType, gotPayload, err := sc.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		if gotType != EncryptedOPACK {
			t.Fatalf("frame type = %v, want %v", gotType, EncryptedOPACK)
		}
		if !bytes.Equal(gotPayload, msg) {
			t.Fatalf("payload = %q, want %q", gotPayload, msg)
		}
	}

	if cc.txCounter.Value() != 2 {
		t.Fatalf("client tx counter = %d, want 2", cc.txCounter.Value())
	}
	if sc.rxCounter.Value() != 2 {
		t.Fatalf("server rx counter = %d, want 2", sc.rxCounter.Value())
	}
}

func TestKeyedReadFailsOnTamperedCiphertext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	cc.InstallKeys(key, key)
	sc.InstallKeys(key, key)

	// Manually build and corrupt a frame so ReadFrame sees a bad tag
	// instead of going through WriteFrame.
	done := make(chan error, 1)
	go func() {
		err := cc.WriteFrame(EncryptedOPACK, []byte("payload"))
		done <- err
	}()

	buf := make([]byte, headerLen+len("payload")+tagLen)
	n := 0
	for n < len(buf) {
		m, err := server.Read(buf[n:])
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		n += m
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF // corrupt the Poly1305 tag

	client2, server2 := net.Pipe()
	defer client2.Close()
	defer server2.Close()
	sc2 := NewConn(server2)
	sc2.InstallKeys(key, key)

	writeDone := make(chan error, 1)
	go func() {
		_, err := client2.Write(buf)
		writeDone <- err
	}()
	if _, _, err := sc2.ReadFrame(); err == nil {
		t.Fatal("expected ReadFrame to fail on a tampered tag")
	}
	<-writeDone
}
