// Command companion-pair drives a Pair-Setup handshake against a
// Companion Protocol accessory over a real TCP socket and writes the
// resulting long-term credential to disk as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/barnettlynn/companion/internal/config"
	"github.com/barnettlynn/companion/pkg/companion"
	"github.com/barnettlynn/companion/pkg/pairing"
	"github.com/barnettlynn/companion/pkg/transport"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	displayName := flag.String("name", "companion-pair", "client name sent to the accessory")
	out := flag.String("out", "", "where to write the credential JSON (overrides config.auth.credential_file)")
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

	cfg, err := config.LoadWithMode(*configPath, config.ValidationPairOnly)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	credPath := *out
	if credPath == "" {
		credPath = cfg.Auth.CredentialFile
	}
	if credPath == "" {
		log.Fatalf("no credential output path: pass -out or set config.auth.credential_file")
	}

	pin := os.Getenv(cfg.Auth.PINEnv)
	if pin == "" {
		log.Fatalf("environment variable %s is unset or empty", cfg.Auth.PINEnv)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Target.Host, *cfg.Target.Port)
	slog.Info("dialing accessory", "addr", addr)
	nc, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer nc.Close()

	sess, err := companion.NewSession(transport.NewConn(nc))
	if err != nil {
		log.Fatalf("new session: %v", err)
	}
	defer sess.Close()

	clientID := uuid.New()
	setup, err := pairing.NewSetup(clientID[:], *displayName, pin)
	if err != nil {
		log.Fatalf("new setup: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout(30*time.Second))
	defer cancel()

	slog.Info("starting pair-setup")
	creds, err := sess.PairSetup(ctx, setup)
	if err != nil {
		if kind, step, retryAfter, ok := pairing.ClassifyError(err); ok {
			log.Fatalf("pair-setup failed at %s (kind %d, retry after %s): %v", step, kind, retryAfter, err)
		}
		log.Fatalf("pair-setup failed: %v", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		log.Fatalf("marshal credentials: %v", err)
	}
	if err := os.WriteFile(credPath, data, 0o600); err != nil {
		log.Fatalf("write %s: %v", credPath, err)
	}
	fmt.Printf("Paired. Credential written to %s\n", credPath)
}
