/*
Package scripthost embeds Lua scripts in a Go host and coordinates their execution.

Each named session pairs a Coordinator with an Environment. The Environment owns the
interpreter and runs an execution loop that is Idle, Running (one pass per request) or
Repeating (one pass per iteration). The Coordinator is the only holder of the
Environment's access token: every control request and every callback is checked against it.

# Modes

In synchronous mode the loop runs on the caller's goroutine. ExecuteScript returns after a
single pass and the script's globals are readable right away.

In worker mode ExecuteScript spawns a goroutine that registers itself with the Coordinator
and then waits, polling at a fixed interval, for Run, Repeat, Stop, Terminate or Kill.

# Usage

	c, err := scripthost.New("npc-1", "./scripts")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := c.ExecuteScript(ctx, "test.lua"); err != nil {
		log.Fatal(err)
	}
	fmt.Println(c.GetDouble("width"), c.GetDouble("height"))

Many sessions can be described in a YAML or JSON file (see package config) and built with
FromConfig, which also wires the Redis snapshot store and locks, the process tools and autostart.
*/
package scripthost
