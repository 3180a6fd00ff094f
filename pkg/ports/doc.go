/*
Package ports defines the driven ports (interfaces) of the script host.

These interfaces decouple the coordination core from external implementations, allowing
the Environment to drive any embedded interpreter and the Coordinator to log and persist
through interchangeable backends.

# Key Interfaces

  - Interpreter: Runs script source and exposes typed variable access (e.g., gopher-lua).
  - LogSink: Receives the timestamped log lines of a session (e.g., a log file).
  - SnapshotStore: Persists the scalar variables of a session between runs.
  - DistributedLocker: Ensures a single live worker per session across instances.
*/
package ports
