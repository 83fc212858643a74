package app

import (
	"github.com/dkeye/vocs/internal/core"
	"github.com/dkeye/vocs/internal/logging"
	"github.com/rs/zerolog"
)

// LogNotifier reports operator notifications to the log.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.For("app.notify")}
}

func (n *LogNotifier) Notify(note core.Notification) {
	var ev *zerolog.Event
	if note.Kind == core.NotifyError {
		ev = n.log.Warn().Err(note.Err)
	} else {
		ev = n.log.Info()
	}
	ev.Str("kind", string(note.Kind)).Str("server", note.Server).Msg(note.Message)
}
