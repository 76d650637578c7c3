// Command companion-emulator is a loopback Apple TV stand-in: it plays
// the accessory side of Pair-Setup and Pair-Verify over a real TCP
// socket and acknowledges every OPACK request it receives, so the rest
// of this module's client side can be exercised end to end without real
// hardware.
package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/barnettlynn/companion/pkg/crypto"
	"github.com/barnettlynn/companion/pkg/opack"
	"github.com/barnettlynn/companion/pkg/pairing"
	"github.com/barnettlynn/companion/pkg/transport"
)

// OPACK envelope field keys, kept local rather than imported: they are
// wire-level constants any accessory implementation needs, not an
// internal of pkg/companion.
const (
	fieldIdentifier = "_i"
	fieldType       = "_t"
	fieldContent    = "_c"
	fieldXID        = "_x"
)

const (
	messageRequest  = 2
	messageResponse = 3
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	addr := flag.String("addr", ":28100", "address to listen on")
	pin := flag.String("pin", "1111", "PIN this emulator accepts for Pair-Setup")
	atvName := flag.String("name", "companion-emulator", "accessory identifier sent during pairing")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	ed, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		log.Fatalf("generate accessory identity: %v", err)
	}
	atvID := []byte(*atvName)
	store := newClientStore()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	slog.Info("emulator listening", "addr", ln.Addr(), "atv_id", *atvName)

	for {
		nc, err := ln.Accept()
		if err != nil {
			slog.Error("accept failed", "err", err)
			continue
		}
		go handleConn(nc, atvID, ed, store, *pin)
	}
}

// clientStore records the long-term public keys of clients that have
// completed Pair-Setup, keyed by the client identifier they presented in
// PS_Msg05. A real accessory would persist this; the emulator keeps it
// in memory for the lifetime of the process.
type clientStore struct {
	mu      sync.Mutex
	clients map[string]ed25519.PublicKey
}

func newClientStore() *clientStore {
	return &clientStore{clients: make(map[string]ed25519.PublicKey)}
}

func (s *clientStore) put(clientID []byte, pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[string(clientID)] = pub
}

func (s *clientStore) lookup(clientID []byte) (ed25519.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.clients[string(clientID)]
	return pub, ok
}

func handleConn(nc net.Conn, atvID []byte, ed crypto.Ed25519KeyPair, store *clientStore, pin string) {
	defer nc.Close()
	conn := transport.NewConn(nc)
	log := slog.With("peer", nc.RemoteAddr())
	log.Info("accepted connection")

	var setup *pairing.AccessorySetup
	var verify *pairing.AccessoryVerify

	for {
		t, payload, err := conn.ReadFrame()
		if err != nil {
			log.Info("connection closed", "err", err)
			return
		}

		switch t {
		case transport.PairSetupStart, transport.PairSetupNext:
			if setup == nil {
				setup, err = pairing.NewAccessorySetup(atvID, pin)
				if err != nil {
					log.Error("new accessory setup", "err", err)
					return
				}
			}
			resp, done, err := setup.HandleRequest(payload)
			if err != nil {
				log.Error("pair-setup failed", "err", err)
				return
			}
			if err := conn.WriteFrame(transport.PairSetupNext, resp); err != nil {
				log.Error("write pair-setup response", "err", err)
				return
			}
			if done {
				clientID, clientPub, err := setup.Result()
				if err != nil {
					log.Error("pair-setup result", "err", err)
					return
				}
				store.put(clientID, clientPub)
				log.Info("pair-setup complete", "client_id", fmt.Sprintf("%x", clientID))
			}

		case transport.PairVerifyStart, transport.PairVerifyNext:
			if verify == nil {
				verify = pairing.NewAccessoryVerify(atvID, ed, store.lookup)
			}
			resp, done, err := verify.HandleRequest(payload)
			if err != nil {
				log.Error("pair-verify failed", "err", err)
				return
			}
			if err := conn.WriteFrame(transport.PairVerifyNext, resp); err != nil {
				log.Error("write pair-verify response", "err", err)
				return
			}
			if done {
				tx, rx, err := verify.Result()
				if err != nil {
					log.Error("pair-verify result", "err", err)
					return
				}
				conn.InstallKeys(tx, rx)
				log.Info("pair-verify complete, data channel keyed")
			}

		case transport.EncryptedOPACK, transport.UnencryptedOPACK, transport.PlainOPACK:
			if err := handleOPACK(conn, t, payload, log); err != nil {
				log.Error("opack exchange failed", "err", err)
				return
			}

		default:
			log.Warn("ignoring unexpected frame", "type", t.String())
		}
	}
}

// handleOPACK acknowledges a single OPACK request with an empty-content
// response carrying the matching transaction id. It does not model any
// accessory-side state beyond pairing: every request succeeds.
func handleOPACK(conn *transport.Conn, t transport.FrameType, payload []byte, log *slog.Logger) error {
	v, err := opack.Unpack(payload)
	if err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	typeV, ok := v.MapGet(fieldType)
	if !ok || typeV.Int != messageRequest {
		return nil
	}
	identifier := ""
	if idV, ok := v.MapGet(fieldIdentifier); ok {
		identifier = idV.Str
	}
	xid := int64(0)
	if xidV, ok := v.MapGet(fieldXID); ok {
		xid = xidV.Int
	}
	log.Debug("opack request", "identifier", identifier, "xid", xid)

	resp := opack.MapVal(
		opack.Entry(fieldIdentifier, opack.StringVal(identifier)),
		opack.Entry(fieldType, opack.IntVal(messageResponse, 1)),
		opack.Entry(fieldXID, opack.IntVal(xid, 4)),
		opack.Entry(fieldContent, opack.MapVal()),
	)
	return conn.WriteFrame(t, opack.Pack(resp))
}
