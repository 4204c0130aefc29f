package logger

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the root logger. Every component derives a named child
// from it, so LOG_LEVEL controls the whole process.
func New(name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(levelFromEnv()),
	})
}

func levelFromEnv() string {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		return lvl
	}
	return "info"
}
