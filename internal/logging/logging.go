// Package logging wires zerolog for the whole process and hands out
// module-scoped loggers.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu          sync.RWMutex
	baseLevel   = zerolog.InfoLevel
	debugScopes = parseScopes(os.Getenv("DEBUG"))
)

type scope struct {
	match  glob.Glob
	enable bool
}

// Setup configures the global logger. level is a zerolog level name; an
// unknown name falls back to info.
func Setup(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	mu.Lock()
	baseLevel = lvl
	debugScopes = parseScopes(os.Getenv("DEBUG"))
	global := lvl
	if len(debugScopes) > 0 && global > zerolog.DebugLevel {
		// per-module loggers do the filtering
		global = zerolog.DebugLevel
	}
	mu.Unlock()

	zerolog.SetGlobalLevel(global)
}

// For returns a logger tagged with module. DEBUG holds a comma separated
// list of glob patterns; a leading '-' excludes matching modules.
func For(module string) zerolog.Logger {
	mu.RLock()
	level := baseLevel
	scopes := debugScopes
	mu.RUnlock()

	if debugging(scopes, module) {
		level = zerolog.DebugLevel
	}
	return log.Logger.Level(level).With().Str("module", module).Logger()
}

// debugging reports whether module is selected by the given scopes. The last
// matching pattern wins.
func debugging(scopes []scope, module string) bool {
	on := false
	for _, s := range scopes {
		if s.match.Match(module) {
			on = s.enable
		}
	}
	return on
}

func parseScopes(debug string) []scope {
	var out []scope
	for _, part := range strings.Split(debug, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		enable := true
		if part[0] == '-' {
			enable = false
			part = part[1:]
		}
		g, err := glob.Compile(part)
		if err != nil {
			continue
		}
		out = append(out, scope{match: g, enable: enable})
	}
	return out
}
