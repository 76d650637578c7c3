package companion

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/transport"
)

// defaultTimeout is the per-request timeout applied when Session.Timeout
// is zero.
const defaultTimeout = 5 * time.Second

// OPACK envelope field keys shared by every request, response, and event.
const (
	fieldIdentifier = "_i"
	fieldType       = "_t"
	fieldContent    = "_c"
	fieldXID        = "_x"
	fieldErrorMsg   = "_em"
)

// messageType is the OPACK envelope's `_t` discriminator.
type messageType int64

const (
	messageEvent    messageType = 1
	messageRequest  messageType = 2
	messageResponse messageType = 3
)

// Event is one (name, content) pair pushed by the accessory outside of
// any request/response pairing.
type Event struct {
	Name    string
	Content opack.Value
}

type authResult struct {
	payload []byte
	err     error
}

type reqResult struct {
	value opack.Value
	err   error
}

// authDriver is satisfied by *pairing.Setup and *pairing.Verify: a
// single stateful driver for one handshake, kept agnostic of how its
// frames reach the wire.
type authDriver interface {
	Start() (transport.FrameType, []byte, error)
	Step(t transport.FrameType, payload []byte) (transport.FrameType, []byte, bool, error)
}

// Session multiplexes one transport.Conn between Pair-Setup/Pair-Verify
// handshakes, concurrent OPACK requests, and accessory-pushed events. It
// is safe for concurrent use: any number of goroutines may call request
// methods at once, each suspending independently until its own response
// (or timeout, or cancellation) arrives. Internally there is exactly one
// reader, the read loop goroutine started by NewSession; all mutation of
// the pending tables happens either there or behind mu.
type Session struct {
	// Timeout overrides the default 5s per-request timeout when
	// positive.
	Timeout time.Duration

	conn    *transport.Conn
	writeMu sync.Mutex // serializes WriteFrame calls; transport.Conn itself is not concurrency-safe

	mu          sync.Mutex
	pendingAuth map[transport.FrameType]chan authResult
	pendingReq  map[uint32]chan reqResult
	nextXID     uint32
	closed      bool
	closeErr    error

	events chan Event
}

// NewSession wraps conn and starts its read loop. events is the push
// channel for accessory-originated Event values and is closed when the
// session fails or conn is closed; callers that don't care about events
// may ignore Events().
func NewSession(conn *transport.Conn) (*Session, error) {
	seed, err := randomUint32()
	if err != nil {
		return nil, fmt.Errorf("companion: seed transaction id generator: %w", err)
	}
	s := &Session{
		conn:        conn,
		pendingAuth: make(map[transport.FrameType]chan authResult),
		pendingReq:  make(map[uint32]chan reqResult),
		nextXID:     seed,
		events:      make(chan Event, 32),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the channel accessory-pushed events are delivered on.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Close closes the underlying connection. The read loop observes the
// resulting error, fails every pending request, and exits.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultTimeout
}

// ----------------------------------------------------------------------
// Read loop
// ----------------------------------------------------------------------

func (s *Session) readLoop() {
	for {
		t, payload, err := s.conn.ReadFrame()
		if err != nil {
			s.failAll(fmt.Errorf("companion: connection failed: %w", err))
			return
		}
		switch t {
		case transport.PairSetupStart, transport.PairSetupNext, transport.PairVerifyStart, transport.PairVerifyNext:
			s.resolveAuth(t, payload)
		case transport.EncryptedOPACK, transport.UnencryptedOPACK, transport.PlainOPACK:
			s.handleOPACK(payload)
		}
	}
}

func (s *Session) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	for k, ch := range s.pendingAuth {
		ch <- authResult{err: err}
		delete(s.pendingAuth, k)
	}
	for k, ch := range s.pendingReq {
		ch <- reqResult{err: err}
		delete(s.pendingReq, k)
	}
	close(s.events)
}

func (s *Session) handleOPACK(payload []byte) {
	v, err := opack.Unpack(payload)
	if err != nil {
		return
	}
	tv, ok := v.MapGet(fieldType)
	if !ok {
		return
	}
	switch messageType(tv.Int) {
	case messageEvent:
		s.handleEvent(v)
	case messageResponse:
		s.handleResponse(v)
	}
}

func (s *Session) handleEvent(v opack.Value) {
	name := ""
	if nv, ok := v.MapGet(fieldIdentifier); ok {
		name = nv.Str
	}
	content, _ := v.MapGet(fieldContent)
	evt := Event{Name: name, Content: content}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- evt:
	default:
		// Drop rather than block the read loop; a caller that needs
		// guaranteed delivery must drain Events promptly.
	}
}

func (s *Session) handleResponse(v opack.Value) {
	xidV, ok := v.MapGet(fieldXID)
	if !ok {
		return
	}
	xid := uint32(xidV.Int)

	s.mu.Lock()
	ch, ok := s.pendingReq[xid]
	if ok {
		delete(s.pendingReq, xid)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if emV, ok := v.MapGet(fieldErrorMsg); ok {
		var identifier string
		if iv, ok := v.MapGet(fieldIdentifier); ok {
			identifier = iv.Str
		}
		ch <- reqResult{err: &ProtocolError{Identifier: identifier, Message: emV.Str}}
		return
	}
	content, _ := v.MapGet(fieldContent)
	ch <- reqResult{value: content}
}

// ----------------------------------------------------------------------
// Auth handshakes
// ----------------------------------------------------------------------

// responseFrameType maps a frame type about to be sent to the frame type
// its response will arrive on; PS_Start and every subsequent PS_Next the
// client sends are both answered on PS_Next (and likewise PV_Start/
// PV_Next on PV_Next).
func responseFrameType(t transport.FrameType) transport.FrameType {
	switch t {
	case transport.PairSetupStart, transport.PairSetupNext:
		return transport.PairSetupNext
	case transport.PairVerifyStart, transport.PairVerifyNext:
		return transport.PairVerifyNext
	default:
		return t
	}
}

func (s *Session) registerAuth(t transport.FrameType) (chan authResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.closeErr
	}
	ch := make(chan authResult, 1)
	s.pendingAuth[t] = ch
	return ch, nil
}

func (s *Session) unregisterAuth(t transport.FrameType) {
	s.mu.Lock()
	delete(s.pendingAuth, t)
	s.mu.Unlock()
}

func (s *Session) resolveAuth(t transport.FrameType, payload []byte) {
	s.mu.Lock()
	ch, ok := s.pendingAuth[t]
	if ok {
		delete(s.pendingAuth, t)
	}
	s.mu.Unlock()
	if ok {
		ch <- authResult{payload: payload}
	}
}

func (s *Session) waitAuth(ctx context.Context, t transport.FrameType, ch chan authResult) ([]byte, error) {
	timer := time.NewTimer(s.timeout())
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.payload, r.err
	case <-timer.C:
		s.unregisterAuth(t)
		return nil, &TimeoutError{Identifier: t.String()}
	case <-ctx.Done():
		s.unregisterAuth(t)
		return nil, ctx.Err()
	}
}

// runAuth drives d to completion: send, await the matching response,
// feed it back into d, repeat until d reports done. Handshakes are
// strictly serial (spec-required); calling runAuth again before a prior
// one finishes is the caller's responsibility to avoid, same as the
// underlying Setup/Verify's own inFlight guard.
func (s *Session) runAuth(ctx context.Context, d authDriver) error {
	sendType, payload, err := d.Start()
	if err != nil {
		return err
	}
	for {
		respType := responseFrameType(sendType)
		ch, err := s.registerAuth(respType)
		if err != nil {
			return err
		}
		s.writeMu.Lock()
		err = s.conn.WriteFrame(sendType, payload)
		s.writeMu.Unlock()
		if err != nil {
			s.unregisterAuth(respType)
			return fmt.Errorf("companion: write %s: %w", sendType, err)
		}
		inPayload, err := s.waitAuth(ctx, respType, ch)
		if err != nil {
			return err
		}
		nextType, nextPayload, done, err := d.Step(respType, inPayload)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		sendType, payload = nextType, nextPayload
	}
}

// ----------------------------------------------------------------------
// OPACK request/response
// ----------------------------------------------------------------------

func (s *Session) nextTransactionID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, s.closeErr
	}
	s.nextXID++
	return s.nextXID, nil
}

// call sends an OPACK request with the given identifier and content and
// waits for its matching response, returning the response's content.
func (s *Session) call(ctx context.Context, identifier string, content opack.Value) (opack.Value, error) {
	xid, err := s.nextTransactionID()
	if err != nil {
		return opack.Value{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return opack.Value{}, s.closeErr
	}
	ch := make(chan reqResult, 1)
	s.pendingReq[xid] = ch
	s.mu.Unlock()

	env := opack.MapVal(
		opack.Entry(fieldIdentifier, opack.StringVal(identifier)),
		opack.Entry(fieldType, opack.IntVal(int64(messageRequest), 1)),
		opack.Entry(fieldXID, opack.IntVal(int64(xid), 4)),
		opack.Entry(fieldContent, content),
	)
	s.writeMu.Lock()
	err = s.conn.WriteFrame(transport.EncryptedOPACK, opack.Pack(env))
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pendingReq, xid)
		s.mu.Unlock()
		return opack.Value{}, fmt.Errorf("companion: write %s request: %w", identifier, err)
	}

	timer := time.NewTimer(s.timeout())
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.value, r.err
	case <-timer.C:
		s.mu.Lock()
		delete(s.pendingReq, xid)
		s.mu.Unlock()
		return opack.Value{}, &TimeoutError{Identifier: identifier}
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pendingReq, xid)
		s.mu.Unlock()
		return opack.Value{}, ctx.Err()
	}
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
