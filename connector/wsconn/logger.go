package wsconn

import (
	"log/slog"
	"os"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "wsconn")

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l.With("component", "wsconn")
}
