package coordinator

import (
	"sort"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
)

// VariableExists reports whether the script has bound a value to name.
func (c *Coordinator) VariableExists(name string) bool {
	env, err := c.current()
	if err != nil {
		return false
	}
	ok, err := env.VariableExists(c.token, name)
	return err == nil && ok
}

// GetString returns the named variable, or "" when it does not exist.
func (c *Coordinator) GetString(name string) string {
	env, err := c.current()
	if err != nil {
		return ""
	}
	v, err := env.ReadString(c.token, name)
	if err != nil {
		c.logger.Debug("variable unavailable", "name", name, "err", err)
		return ""
	}
	return v
}

// GetDouble returns the named variable, or -1.0 when it does not exist.
func (c *Coordinator) GetDouble(name string) float64 {
	env, err := c.current()
	if err != nil {
		return -1.0
	}
	v, err := env.ReadNumber(c.token, name)
	if err != nil {
		c.logger.Debug("variable unavailable", "name", name, "err", err)
		return -1.0
	}
	return v
}

// GetBool returns the named variable, or false when it does not exist.
func (c *Coordinator) GetBool(name string) bool {
	env, err := c.current()
	if err != nil {
		return false
	}
	v, err := env.ReadBool(c.token, name)
	if err != nil {
		c.logger.Debug("variable unavailable", "name", name, "err", err)
		return false
	}
	return v
}

// SetString overwrites an existing variable. It returns domain.ErrVariableNotFound
// without writing when the script never bound name.
func (c *Coordinator) SetString(name, value string) error {
	env, err := c.current()
	if err != nil {
		return err
	}
	return env.WriteString(c.token, name, value)
}

// SetDouble overwrites an existing variable.
func (c *Coordinator) SetDouble(name string, value float64) error {
	env, err := c.current()
	if err != nil {
		return err
	}
	return env.WriteNumber(c.token, name, value)
}

// SetBool overwrites an existing variable.
func (c *Coordinator) SetBool(name string, value bool) error {
	env, err := c.current()
	if err != nil {
		return err
	}
	return env.WriteBool(c.token, name, value)
}

// Snapshot captures the scalar variables currently bound by the script.
func (c *Coordinator) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Session:   c.name,
		Variables: map[string]any{},
		Executed:  c.Executed(),
		TakenAt:   time.Now().UTC(),
	}
	env, err := c.current()
	if err != nil {
		return snap
	}
	if vars, err := env.Variables(c.token); err == nil {
		snap.Variables = vars
	}
	return snap
}

// Restore writes the snapshot's values back into variables that already exist and
// returns how many were applied. Names the script has not bound are skipped.
func (c *Coordinator) Restore(snap domain.Snapshot) int {
	names := make([]string, 0, len(snap.Variables))
	for name := range snap.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		var err error
		switch v := snap.Variables[name].(type) {
		case string:
			err = c.SetString(name, v)
		case float64:
			err = c.SetDouble(name, v)
		case int:
			err = c.SetDouble(name, float64(v))
		case int64:
			err = c.SetDouble(name, float64(v))
		case bool:
			err = c.SetBool(name, v)
		default:
			c.logger.Debug("skipping non-scalar snapshot value", "name", name)
			continue
		}
		if err != nil {
			c.logger.Debug("snapshot value not applied", "name", name, "err", err)
			continue
		}
		applied++
	}
	return applied
}
