// Command companion-ctl connects to an already-paired Companion
// Protocol accessory, runs Pair-Verify using a stored credential, and
// issues a single session command: a remote button press, a media
// transport command, an app launch, or a timed event subscription.
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
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/barnettlynn/companion/internal/config"
	"github.com/barnettlynn/companion/pkg/companion"
	"github.com/barnettlynn/companion/pkg/pairing"
	"github.com/barnettlynn/companion/pkg/transport"
)

// remoteButtons maps the -button flag's accepted names to the HID
// usage-page/usage pairs a Siri Remote reports for the same controls.
var remoteButtons = map[string]companion.HIDCommand{
	"up":     {Page: 0x0C, Usage: 0x8D},
	"down":   {Page: 0x0C, Usage: 0x8E},
	"left":   {Page: 0x0C, Usage: 0x8F},
	"right":  {Page: 0x0C, Usage: 0x90},
	"select": {Page: 0x0C, Usage: 0x89},
	"menu":   {Page: 0x0C, Usage: 0x86},
	"home":   {Page: 0x0C, Usage: 0x40},
}

var mediaCommands = map[string]companion.MediaCommand{
	"play":     companion.MediaCommandPlay,
	"pause":    companion.MediaCommandPause,
	"next":     companion.MediaCommandNextTrack,
	"previous": companion.MediaCommandPreviousTrack,
}

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	command := flag.String("command", "", "one of: button, media, launch, subscribe (required)")
	button := flag.String("button", "", "button name for -command=button: up,down,left,right,select,menu,home")
	media := flag.String("media", "", "media command for -command=media: play,pause,next,previous")
	bundleID := flag.String("bundle-id", "", "bundle id for -command=launch")
	topics := flag.String("topics", "", "comma-separated event topics for -command=subscribe")
	subscribeFor := flag.Duration("for", 5*time.Second, "how long to wait for events with -command=subscribe")
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

	if strings.TrimSpace(*command) == "" {
		log.Fatalf("-command is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := config.ValidateReadableFile(cfg.Auth.CredentialFile, "config.auth.credential_file"); err != nil {
		log.Fatalf("%v", err)
	}

	credData, err := os.ReadFile(cfg.Auth.CredentialFile)
	if err != nil {
		log.Fatalf("read credential file: %v", err)
	}
	var creds pairing.Credentials
	if err := json.Unmarshal(credData, &creds); err != nil {
		log.Fatalf("decode credential file: %v", err)
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
	sess.Timeout = cfg.RequestTimeout(5 * time.Second)

	clientID := uuid.New()
	verify := pairing.NewVerify(creds.ClientID, creds)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("starting pair-verify")
	if err := sess.PairVerify(ctx, verify); err != nil {
		log.Fatalf("pair-verify failed: %v", err)
	}

	if _, err := sess.SystemInfo(ctx, companion.SystemInfo{Name: "companion-ctl", Model: "go", DeviceID: clientID.String()}); err != nil {
		log.Fatalf("system info exchange failed: %v", err)
	}

	switch *command {
	case "button":
		runButton(ctx, sess, *button)
	case "media":
		runMedia(ctx, sess, *media)
	case "launch":
		runLaunch(ctx, sess, *bundleID)
	case "subscribe":
		runSubscribe(sess, *topics, *subscribeFor)
	default:
		log.Fatalf("unknown -command %q", *command)
	}
}

func runButton(ctx context.Context, sess *companion.Session, name string) {
	cmd, ok := remoteButtons[name]
	if !ok {
		log.Fatalf("unknown -button %q", name)
	}
	sessionID := uint32(1)
	if _, err := sess.SessionStart(ctx, sessionID); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer sess.SessionStop(ctx, sessionID)

	down := cmd
	down.Down = true
	if err := sess.HIDCommand(ctx, sessionID, down); err != nil {
		log.Fatalf("button press failed: %v", err)
	}
	up := cmd
	up.Down = false
	if err := sess.HIDCommand(ctx, sessionID, up); err != nil {
		log.Fatalf("button release failed: %v", err)
	}
	fmt.Printf("Sent button: %s\n", name)
}

func runMedia(ctx context.Context, sess *companion.Session, name string) {
	cmd, ok := mediaCommands[name]
	if !ok {
		log.Fatalf("unknown -media %q", name)
	}
	sessionID := uint32(1)
	if _, err := sess.SessionStart(ctx, sessionID); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer sess.SessionStop(ctx, sessionID)
	if err := sess.MediaControlCommand(ctx, sessionID, cmd); err != nil {
		log.Fatalf("media command failed: %v", err)
	}
	fmt.Printf("Sent media command: %s\n", name)
}

func runLaunch(ctx context.Context, sess *companion.Session, bundleID string) {
	if strings.TrimSpace(bundleID) == "" {
		log.Fatalf("-bundle-id is required for -command=launch")
	}
	if err := sess.LaunchApp(ctx, bundleID); err != nil {
		log.Fatalf("launch app failed: %v", err)
	}
	fmt.Printf("Launched %s\n", bundleID)
}

func runSubscribe(sess *companion.Session, topicList string, duration time.Duration) {
	var topics []string
	for _, t := range strings.Split(topicList, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		log.Fatalf("-topics is required for -command=subscribe")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Interest(ctx, topics, true); err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	fmt.Printf("Subscribed to %v, listening for %s...\n", topics, duration)
	deadline := time.After(duration)
	for {
		select {
		case evt, ok := <-sess.Events():
			if !ok {
				fmt.Println("session closed")
				return
			}
			fmt.Printf("event: %s\n", evt.Name)
		case <-deadline:
			return
		}
	}
}
