package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup opens the service log file and installs it as the global diagnostic
// sink. The raw file contents back the /service_log endpoint, so the file
// writer stays plain JSON lines; a console writer is added on top in
// development. The returned closer releases the file handle.
func Setup(path, env string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open service log %s: %w", path, err)
	}

	var w zerolog.LevelWriter = zerolog.MultiLevelWriter(f)
	level := zerolog.InfoLevel
	if env == "development" {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stderr})
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return f.Close, nil
}
