// Package conversation tracks the conversations a session has touched so
// they can be re-synchronised after the channels are re-established.
//
// The registry only grows during a session. Resurrect refreshes every
// registered conversation concurrently and waits for all of them to settle;
// one failed refresh never cancels its siblings.
package conversation
