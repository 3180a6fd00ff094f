// Package coordinator owns one scripting Environment and exposes the public control surface.
//
// A Coordinator mints the capability token, opens the session log sink and receives the
// Environment's completion and log notifications. It runs in one of two modes:
//
//   - Synchronous: ExecuteScript drives the loop on the caller's goroutine and returns once
//     the script has run a single time.
//   - Worker: ExecuteScript spawns a goroutine that builds its own interpreter, registers
//     back with the Coordinator and then waits for RunScript, RepeatScript or StopScript.
//
// Script variables are read and written through the Coordinator between passes.
package coordinator
