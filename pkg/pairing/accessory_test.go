package pairing

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/barnettlynn/companion/pkg/transport"
)

func TestAccessorySetupAndClientSetupAgree(t *testing.T) {
	atvID := []byte("accessory-5678")
	accessory, err := NewAccessorySetup(atvID, "1111")
	if err != nil {
		t.Fatalf("NewAccessorySetup: %v", err)
	}
	clientID := []byte("client-1234")
	client, err := NewSetup(clientID, "My Controller", "1111")
	if err != nil {
		t.Fatalf("NewSetup: %v", err)
	}

	runSetup(t, client, accessory)

	creds, err := client.Result()
	if err != nil {
		t.Fatalf("client Result: %v", err)
	}
	if !bytes.Equal(creds.AtvID, atvID) {
		t.Fatalf("Credentials.AtvID = %q, want %q", creds.AtvID, atvID)
	}
	if !bytes.Equal([]byte(creds.AtvPK), []byte(accessory.Ed.Public)) {
		t.Fatal("Credentials.AtvPK does not match accessory's identity")
	}

	gotClientID, gotClientPub, err := accessory.Result()
	if err != nil {
		t.Fatalf("accessory Result: %v", err)
	}
	if !bytes.Equal(gotClientID, clientID) {
		t.Fatalf("accessory recorded client id %q, want %q", gotClientID, clientID)
	}
	if !bytes.Equal([]byte(gotClientPub), []byte(creds.LTPK)) {
		t.Fatal("accessory recorded client LTPK does not match what Setup minted")
	}
}

func TestAccessorySetupRejectsWrongPin(t *testing.T) {
	accessory, err := NewAccessorySetup([]byte("atv"), "1111")
	if err != nil {
		t.Fatalf("NewAccessorySetup: %v", err)
	}
	client, err := NewSetup([]byte("client"), "", "2222")
	if err != nil {
		t.Fatalf("NewSetup: %v", err)
	}

	_, m1, err := client.Start()
	if err != nil {
		t.Fatalf("client Start: %v", err)
	}
	m2, _, err := accessory.HandleRequest(m1)
	if err != nil {
		t.Fatalf("accessory M1: %v", err)
	}
	_, m3, _, err := client.Step(transport.PairSetupNext, m2)
	if err != nil {
		t.Fatalf("client Step M2: %v", err)
	}
	m4, _, err := accessory.HandleRequest(m3)
	if err != nil {
		t.Fatalf("accessory M3: %v", err)
	}
	_, _, _, err = client.Step(transport.PairSetupNext, m4)
	if err == nil {
		t.Fatal("expected authentication error for wrong PIN")
	}
	if !IsAuthentication(err) {
		t.Fatalf("expected an authentication error, got %v", err)
	}
}

func TestAccessoryVerifyAndClientVerifyAgree(t *testing.T) {
	atvID := []byte("accessory-5678")
	setupAccessory, err := NewAccessorySetup(atvID, "1111")
	if err != nil {
		t.Fatalf("NewAccessorySetup: %v", err)
	}
	clientID := []byte("client-1234")
	setupClient, err := NewSetup(clientID, "", "1111")
	if err != nil {
		t.Fatalf("NewSetup: %v", err)
	}
	runSetup(t, setupClient, setupAccessory)
	creds, err := setupClient.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	accessoryVerify := NewAccessoryVerify(atvID, setupAccessory.Ed, func(id []byte) (ed25519.PublicKey, bool) {
		gotID, gotPub, err := setupAccessory.Result()
		if err != nil || !bytes.Equal(gotID, id) {
			return nil, false
		}
		return gotPub, true
	})

	clientVerify := NewVerify(clientID, creds)
	_, m1, err := clientVerify.Start()
	if err != nil {
		t.Fatalf("client Verify Start: %v", err)
	}
	m2, done, err := accessoryVerify.HandleRequest(m1)
	if err != nil || done {
		t.Fatalf("accessory PV M1: done=%v err=%v", done, err)
	}
	_, m3, done, err := clientVerify.Step(transport.PairVerifyNext, m2)
	if err != nil {
		t.Fatalf("client Verify Step M2: %v", err)
	}
	if done {
		t.Fatal("client Verify should not be done after M2")
	}
	m4, done, err := accessoryVerify.HandleRequest(m3)
	if err != nil || !done {
		t.Fatalf("accessory PV M3: done=%v err=%v", done, err)
	}
	_, _, done, err = clientVerify.Step(transport.PairVerifyNext, m4)
	if err != nil {
		t.Fatalf("client Verify Step M4: %v", err)
	}
	if !done {
		t.Fatal("expected client Pair-Verify to complete")
	}

	clientTx, clientRx, err := clientVerify.Result()
	if err != nil {
		t.Fatalf("client Verify Result: %v", err)
	}
	accessoryTx, accessoryRx, err := accessoryVerify.Result()
	if err != nil {
		t.Fatalf("accessory Verify Result: %v", err)
	}
	if clientTx != accessoryRx {
		t.Fatal("client tx key does not match accessory rx key")
	}
	if clientRx != accessoryTx {
		t.Fatal("client rx key does not match accessory tx key")
	}
}

func TestAccessoryVerifyRejectsUnknownClient(t *testing.T) {
	atvID := []byte("accessory-5678")
	setupAccessory, err := NewAccessorySetup(atvID, "1111")
	if err != nil {
		t.Fatalf("NewAccessorySetup: %v", err)
	}
	clientID := []byte("client-1234")
	setupClient, err := NewSetup(clientID, "", "1111")
	if err != nil {
		t.Fatalf("NewSetup: %v", err)
	}
	runSetup(t, setupClient, setupAccessory)
	creds, err := setupClient.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	accessoryVerify := NewAccessoryVerify(atvID, setupAccessory.Ed, func(id []byte) (ed25519.PublicKey, bool) {
		return nil, false
	})
	clientVerify := NewVerify(clientID, creds)
	_, m1, err := clientVerify.Start()
	if err != nil {
		t.Fatalf("client Verify Start: %v", err)
	}
	m2, _, err := accessoryVerify.HandleRequest(m1)
	if err != nil {
		t.Fatalf("accessory PV M1: %v", err)
	}
	_, m3, _, err := clientVerify.Step(transport.PairVerifyNext, m2)
	if err != nil {
		t.Fatalf("client Verify Step M2: %v", err)
	}
	m4, done, err := accessoryVerify.HandleRequest(m3)
	if err != nil {
		t.Fatalf("accessory PV M3 transport-level error: %v", err)
	}
	if done {
		t.Fatal("accessory must not complete Pair-Verify for an unknown client")
	}
	_, _, _, err = clientVerify.Step(transport.PairVerifyNext, m4)
	if !IsAuthentication(err) {
		t.Fatalf("expected an authentication error from PV_M4, got %v", err)
	}
}

// runSetup drives a full client/accessory Pair-Setup handshake to
// completion, failing the test on any error.
func runSetup(t *testing.T, client *Setup, accessory *AccessorySetup) {
	t.Helper()
	_, m1, err := client.Start()
	if err != nil {
		t.Fatalf("client Start: %v", err)
	}
	m2, _, err := accessory.HandleRequest(m1)
	if err != nil {
		t.Fatalf("accessory M1: %v", err)
	}
	_, m3, _, err := client.Step(transport.PairSetupNext, m2)
	if err != nil {
		t.Fatalf("client Step M2: %v", err)
	}
	m4, _, err := accessory.HandleRequest(m3)
	if err != nil {
		t.Fatalf("accessory M3: %v", err)
	}
	_, m5, _, err := client.Step(transport.PairSetupNext, m4)
	if err != nil {
		t.Fatalf("client Step M4: %v", err)
	}
	m6, _, err := accessory.HandleRequest(m5)
	if err != nil {
		t.Fatalf("accessory M5: %v", err)
	}
	_, _, done, err := client.Step(transport.PairSetupNext, m6)
	if err != nil {
		t.Fatalf("client Step M6: %v", err)
	}
	if !done {
		t.Fatal("expected Pair-Setup to complete")
	}
}
