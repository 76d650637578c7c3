// Package companion implements the Companion Protocol's multiplexer and
// the session-level request/response/event API built on top of it. A
// Session owns one transport.Conn, a read loop goroutine, and two
// pending-request tables: one keyed by the auth frame type a Pair-Setup
// or Pair-Verify response is expected on, the other keyed by the OPACK
// transaction id (_x) a request/response pair shares. It follows the
// teacher's "one package hosts primitives and convenience operations"
// layout: the multiplexer internals and the high-level session calls
// (SystemInfo, LaunchApp, ...) live side by side, the way ntag424 houses
// both SsmCmdFull and ReadNDEF/ChangeKeySame.
package companion
