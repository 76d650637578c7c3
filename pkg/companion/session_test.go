package companion

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/transport"
)

func pipeSession(t *testing.T) (*Session, *transport.Conn) {
	t.Helper()
	clientNC, accessoryNC := net.Pipe()
	t.Cleanup(func() { clientNC.Close(); accessoryNC.Close() })

	sess, err := NewSession(transport.NewConn(clientNC))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess, transport.NewConn(accessoryNC)
}

func TestSystemInfoRequestResponseRoundTrip(t *testing.T) {
	sess, accessory := pipeSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, payload, err := accessory.ReadFrame()
		if err != nil {
			t.Errorf("accessory ReadFrame: %v", err)
			return
		}
		req, err := opack.Unpack(payload)
		if err != nil {
			t.Errorf("accessory decode request: %v", err)
			return
		}
		xid, _ := req.MapGet(fieldXID)
		idv, _ := req.MapGet(fieldIdentifier)
		if idv.Str != idSystemInfo {
			t.Errorf("request identifier = %q, want %q", idv.Str, idSystemInfo)
		}

		resp := opack.MapVal(
			opack.Entry(fieldIdentifier, opack.StringVal(idSystemInfo)),
			opack.Entry(fieldType, opack.IntVal(int64(messageResponse), 1)),
			opack.Entry(fieldXID, xid),
			opack.Entry(fieldContent, opack.MapVal(opack.Entry("name", opack.StringVal("Living Room")))),
		)
		if err := accessory.WriteFrame(transport.EncryptedOPACK, opack.Pack(resp)); err != nil {
			t.Errorf("accessory WriteFrame: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	content, err := sess.SystemInfo(ctx, SystemInfo{Name: "companion-ctl", Model: "x86_64", DeviceID: "AA:BB:CC:DD:EE:FF"})
	if err != nil {
		t.Fatalf("SystemInfo: %v", err)
	}
	<-done

	nameV, ok := content.MapGet("name")
	if !ok || nameV.Str != "Living Room" {
		t.Fatalf("response content name = %+v, want Living Room", nameV)
	}
}

func TestCallSurfacesProtocolError(t *testing.T) {
	sess, accessory := pipeSession(t)

	go func() {
		_, payload, err := accessory.ReadFrame()
		if err != nil {
			return
		}
		req, _ := opack.Unpack(payload)
		xid, _ := req.MapGet(fieldXID)
		resp := opack.MapVal(
			opack.Entry(fieldIdentifier, opack.StringVal(idLaunchApp)),
			opack.Entry(fieldType, opack.IntVal(int64(messageResponse), 1)),
			opack.Entry(fieldXID, xid),
			opack.Entry(fieldErrorMsg, opack.StringVal("app not installed")),
		)
		accessory.WriteFrame(transport.EncryptedOPACK, opack.Pack(resp))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sess.LaunchApp(ctx, "com.example.app")
	if err == nil {
		t.Fatal("expected an error")
	}
	pe, ok := err.(*ProtocolError)
	if !ok {
		t.Fatalf("error type = %T, want *ProtocolError", err)
	}
	if pe.Message != "app not installed" {
		t.Fatalf("ProtocolError.Message = %q", pe.Message)
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	sess, accessory := pipeSession(t)
	// Drain requests so the client's WriteFrame can complete, but never
	// answer them.
	go func() {
		for {
			if _, _, err := accessory.ReadFrame(); err != nil {
				return
			}
		}
	}()
	sess.Timeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sess.FetchAttentionState(ctx)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("error type = %T, want *TimeoutError", err)
	}
}

func TestEventIsDeliveredOnEventsChannel(t *testing.T) {
	sess, accessory := pipeSession(t)

	go func() {
		evt := opack.MapVal(
			opack.Entry(fieldIdentifier, opack.StringVal("_playbackQueueUpdate")),
			opack.Entry(fieldType, opack.IntVal(int64(messageEvent), 1)),
			opack.Entry(fieldContent, opack.MapVal(opack.Entry("state", opack.StringVal("playing")))),
		)
		accessory.WriteFrame(transport.EncryptedOPACK, opack.Pack(evt))
	}()

	select {
	case got := <-sess.Events():
		if got.Name != "_playbackQueueUpdate" {
			t.Fatalf("Event.Name = %q", got.Name)
		}
		stateV, ok := got.Content.MapGet("state")
		if !ok || stateV.Str != "playing" {
			t.Fatalf("Event.Content[state] = %+v", stateV)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConcurrentRequestsCompleteOutOfOrder(t *testing.T) {
	sess, accessory := pipeSession(t)

	go func() {
		// Read both requests first, then answer the second one first
		// to prove completion order doesn't have to match submission
		// order.
		var xids []opack.Value
		for i := 0; i < 2; i++ {
			_, payload, err := accessory.ReadFrame()
			if err != nil {
				return
			}
			req, _ := opack.Unpack(payload)
			xid, _ := req.MapGet(fieldXID)
			xids = append(xids, xid)
		}
		for i := len(xids) - 1; i >= 0; i-- {
			resp := opack.MapVal(
				opack.Entry(fieldType, opack.IntVal(int64(messageResponse), 1)),
				opack.Entry(fieldXID, xids[i]),
				opack.Entry(fieldContent, opack.MapVal(opack.Entry("order", opack.IntVal(int64(i), 1)))),
			)
			accessory.WriteFrame(transport.EncryptedOPACK, opack.Pack(resp))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		content opack.Value
		err     error
	}
	results := make(chan result, 2)
	go func() {
		c, err := sess.FetchAttentionState(ctx)
		results <- result{c, err}
	}()
	go func() {
		c, err := sess.FetchLaunchableApplications(ctx)
		results <- result{c, err}
	}()

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("request %d: %v", i, r.err)
		}
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	sess, accessory := pipeSession(t)
	go func() {
		for {
			if _, _, err := accessory.ReadFrame(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.FetchAttentionState(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sess.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending request to fail after Close")
	}
}
