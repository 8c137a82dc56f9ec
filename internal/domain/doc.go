// Package domain contains the core types of the aesdsocket server that carry
// no infrastructure dependencies.
//
//   - [FrameBuffer]: per-connection accumulation of newline-terminated frames
//   - [SetupError] and the sentinel errors used to classify failures
//
// Only SetupError is fatal to the process. Connection and store errors are
// local to the connection that hit them.
package domain
