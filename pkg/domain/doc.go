/*
Package domain contains the core domain models of the script host.

It defines the vocabulary shared by the Environment state machine and the Coordinator
that owns it. This package is kept pure and free of external dependencies like I/O,
interpreters or persistence, following Hexagonal Architecture principles.

# Key Entities

  - RunState: The Environment's current mode (Idle, Running, Repeating).
  - Intent: A pending request to change the RunState, raised from outside the loop.
  - Token: The capability proving the right to control a given Environment.
  - Snapshot: The scalar variables of a session captured after execution.
*/
package domain
