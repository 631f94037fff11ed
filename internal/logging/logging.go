// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the rotating log file inside the log directory.
const FileName = "trainer-perf.log"

// Options control Init.
type Options struct {
	Verbose bool
	// Dir overrides LOGS_FOLDER and the default <exe dir>/logs.
	Dir string
	// Console receives human-readable output. Defaults to os.Stderr; stdout
	// is reserved for the MCP transport.
	Console *os.File
}

// Init installs a global logger writing to the console and to a rotating file.
func Init(opts Options) error {
	// Init runs before config.Load, so LOGS_FOLDER must come from .env here.
	exePath, exeErr := os.Executable()
	if exeErr == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exePath), ".env"))
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	isTerminal := isatty.IsTerminal(console.Fd()) || isatty.IsCygwinTerminal(console.Fd())
	consoleWriter := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal,
	}

	dir := opts.Dir
	if dir == "" {
		dir = os.Getenv("LOGS_FOLDER")
	}
	if dir == "" {
		if exeErr == nil {
			dir = filepath.Join(filepath.Dir(exePath), "logs")
		} else {
			dir = "logs"
		}
	}

	fileWriter, err := rotatingFile(dir)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(io.Writer(consoleWriter), fileWriter)).
		With().
		Timestamp().
		Logger()
	return nil
}

func rotatingFile(dir string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return nil, fmt.Errorf("log directory %q is not writable: %w", dir, err)
	}
	_ = os.Remove(testFile)

	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileName),
		MaxSize:    16, // megabytes
		MaxBackups: 8,
		MaxAge:     90, // days
		Compress:   true,
	}, nil
}
