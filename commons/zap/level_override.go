package zap

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// levelOverrideCore filters entries by the level configured for their logger
// name. The most specific category wins: an override for "claim" also applies
// to "claim.kafka" unless "claim.kafka" has its own.
type levelOverrideCore struct {
	inner     zapcore.Core
	base      zapcore.Level
	min       zapcore.Level
	overrides map[string]zapcore.Level
}

func newLevelOverrideCore(inner zapcore.Core, base zapcore.Level, overrides map[string]zapcore.Level) *levelOverrideCore {
	min := base
	copied := make(map[string]zapcore.Level, len(overrides))

	for category, lvl := range overrides {
		copied[category] = lvl

		if lvl < min {
			min = lvl
		}
	}

	return &levelOverrideCore{inner: inner, base: base, min: min, overrides: copied}
}

// LevelFor returns the effective minimum level for a logger name.
func (c *levelOverrideCore) LevelFor(name string) zapcore.Level {
	for name != "" {
		if lvl, ok := c.overrides[name]; ok {
			return lvl
		}

		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}

		name = name[:i]
	}

	return c.base
}

func (c *levelOverrideCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min
}

// Level lets zapcore.LevelOf report the most verbose level any category can emit.
func (c *levelOverrideCore) Level() zapcore.Level {
	return c.min
}

func (c *levelOverrideCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelOverrideCore{inner: c.inner.With(fields), base: c.base, min: c.min, overrides: c.overrides}
}

func (c *levelOverrideCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.LevelFor(ent.LoggerName) {
		return ce
	}

	return c.inner.Check(ent, ce)
}

func (c *levelOverrideCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.inner.Write(ent, fields)
}

func (c *levelOverrideCore) Sync() error {
	return c.inner.Sync()
}
