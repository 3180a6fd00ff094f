/*
Package environment implements the run-state machine that drives repeated script
invocations against one embedded interpreter.

An Environment is built inert from a Config, made live exactly once by Initialize,
and then driven by its execution loop. Every control call presents the capability
Token; a mismatched token changes nothing and returns domain.ErrAccessDenied.

# Loop

Each iteration of the loop is one evaluation of the transition function:

 1. Exit if the Environment was halted (Kill, or Stop in synchronous mode) or a
    terminate intent is pending.
 2. Promote pending intents in the fixed order Run, Repeat, Stop. Later promotions
    win within the same iteration.
 3. Act on the resulting state: Idle clears the observed transition intents, Running
    executes the script once per observed run intent, Repeating executes the script
    on every iteration.
 4. In worker mode, sleep for the poll interval. In synchronous mode, loop at once.

Intents are held in a single atomic bitmask. The loop clears only the bits it
observed in its snapshot, so a request that arrives mid-iteration is kept for the
next one.
*/
package environment
