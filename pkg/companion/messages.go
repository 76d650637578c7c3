package companion

import (
	"context"

	"github.com/barnettlynn/companion/pkg/opack"
)

// OPACK `_i` identifiers the session API builds requests for, so call
// sites never hand-build raw OPACK maps. Content field names below
// (`_sid`, `_hidP`, `_bundleID`, and so on) follow the terse
// underscore-prefixed style used throughout this family of requests;
// treat them as this client's own naming rather than a guaranteed match
// for every accessory firmware revision.
const (
	idSystemInfo                  = "_systemInfo"
	idSessionStart                = "_sessionStart"
	idSessionStop                 = "_sessionStop"
	idTouchStart                  = "_touchStart"
	idTouchStop                   = "_touchStop"
	idHIDCommand                  = "_hidC"
	idMediaControlCommand         = "_mcc"
	idLaunchApp                   = "_launchApp"
	idInterest                    = "_interest"
	idFetchAttentionState         = "FetchAttentionState"
	idFetchLaunchableApplications = "FetchLaunchableApplicationsEvent"
)

// SystemInfo identifies this client to the accessory. It is normally the
// first request sent once the data channel is established.
type SystemInfo struct {
	Name               string
	Model              string
	SystemBuildVersion string
	DeviceID           string
}

// SystemInfo sends this client's identity and returns the accessory's.
func (s *Session) SystemInfo(ctx context.Context, info SystemInfo) (opack.Value, error) {
	content := opack.MapVal(
		opack.Entry("name", opack.StringVal(info.Name)),
		opack.Entry("_pubID", opack.StringVal(info.DeviceID)),
		opack.Entry("_deviceID", opack.StringVal(info.DeviceID)),
		opack.Entry("_model", opack.StringVal(info.Model)),
		opack.Entry("_systemVersion", opack.StringVal(info.SystemBuildVersion)),
	)
	return s.call(ctx, idSystemInfo, content)
}

// SessionStart opens a HID/media control session, identified by a
// caller-chosen id that must be reused on every subsequent
// TouchStart/TouchStop/HIDCommand/MediaControlCommand/SessionStop call
// until the session is torn down.
func (s *Session) SessionStart(ctx context.Context, sessionID uint32) (opack.Value, error) {
	content := opack.MapVal(opack.Entry("_srvT", opack.IntVal(0, 1)), opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)))
	return s.call(ctx, idSessionStart, content)
}

// SessionStop tears down a session opened by SessionStart.
func (s *Session) SessionStop(ctx context.Context, sessionID uint32) error {
	content := opack.MapVal(opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)))
	_, err := s.call(ctx, idSessionStop, content)
	return err
}

// TouchPhase identifies one stage of a synthesized touch gesture.
type TouchPhase int

const (
	TouchPhaseBegan TouchPhase = iota
	TouchPhaseMoved
	TouchPhaseEnded
	TouchPhaseCancelled
)

// TouchEvent is one point of a synthesized touch gesture, in the
// accessory's normalized [0,1] coordinate space.
type TouchEvent struct {
	X, Y  float64
	Phase TouchPhase
}

// TouchStart begins a touch gesture within sessionID.
func (s *Session) TouchStart(ctx context.Context, sessionID uint32, ev TouchEvent) error {
	content := opack.MapVal(
		opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)),
		opack.Entry("_x", opack.Float64Val(ev.X)),
		opack.Entry("_y", opack.Float64Val(ev.Y)),
		opack.Entry("_phs", opack.IntVal(int64(ev.Phase), 1)),
	)
	_, err := s.call(ctx, idTouchStart, content)
	return err
}

// TouchStop ends the touch gesture started by TouchStart.
func (s *Session) TouchStop(ctx context.Context, sessionID uint32) error {
	content := opack.MapVal(opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)))
	_, err := s.call(ctx, idTouchStop, content)
	return err
}

// HIDCommand is one HID usage-page/usage press or release, the same
// shape a physical Siri Remote reports for D-pad and button input.
type HIDCommand struct {
	Page  uint16
	Usage uint16
	Down  bool
}

// HIDCommand sends one HID button event within sessionID.
func (s *Session) HIDCommand(ctx context.Context, sessionID uint32, cmd HIDCommand) error {
	content := opack.MapVal(
		opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)),
		opack.Entry("_hidP", opack.IntVal(int64(cmd.Page), 2)),
		opack.Entry("_hidU", opack.IntVal(int64(cmd.Usage), 2)),
		opack.Entry("_hidD", opack.Bool(cmd.Down)),
	)
	_, err := s.call(ctx, idHIDCommand, content)
	return err
}

// MediaCommand is a transport-control command sent via
// MediaControlCommand.
type MediaCommand int

const (
	MediaCommandPlay MediaCommand = iota
	MediaCommandPause
	MediaCommandNextTrack
	MediaCommandPreviousTrack
)

// MediaControlCommand sends one media transport-control command within
// sessionID.
func (s *Session) MediaControlCommand(ctx context.Context, sessionID uint32, cmd MediaCommand) error {
	content := opack.MapVal(
		opack.Entry("_sid", opack.IntVal(int64(sessionID), 4)),
		opack.Entry("_mcF", opack.IntVal(int64(cmd), 1)),
	)
	_, err := s.call(ctx, idMediaControlCommand, content)
	return err
}

// LaunchApp asks the accessory to launch the app with the given bundle
// identifier.
func (s *Session) LaunchApp(ctx context.Context, bundleID string) error {
	content := opack.MapVal(opack.Entry("_bundleID", opack.StringVal(bundleID)))
	_, err := s.call(ctx, idLaunchApp, content)
	return err
}

// Interest subscribes or unsubscribes this client from the named event
// topics; matching events are delivered on Events().
func (s *Session) Interest(ctx context.Context, topics []string, subscribe bool) error {
	items := make([]opack.Value, len(topics))
	for i, t := range topics {
		items[i] = opack.StringVal(t)
	}
	key := "_regEvents"
	if !subscribe {
		key = "_deregEvents"
	}
	content := opack.MapVal(opack.Entry(key, opack.ArrayVal(items...)))
	_, err := s.call(ctx, idInterest, content)
	return err
}

// FetchAttentionState asks the accessory to report whether it currently
// holds "attention" (is actively displaying content to the user).
func (s *Session) FetchAttentionState(ctx context.Context) (opack.Value, error) {
	return s.call(ctx, idFetchAttentionState, opack.MapVal())
}

// FetchLaunchableApplications asks the accessory for the set of
// installed applications it will accept a LaunchApp request for.
func (s *Session) FetchLaunchableApplications(ctx context.Context) (opack.Value, error) {
	return s.call(ctx, idFetchLaunchableApplications, opack.MapVal())
}
