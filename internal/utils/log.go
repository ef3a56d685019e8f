package utils

import (
	"os"

	"github.com/kairos-io/kairos-sdk/types"
	"github.com/masterbooter/masterbooter/internal/constants"
	"github.com/rs/zerolog"
)

// KLog is the generic KairosLogger, it writes both to the console and to constants.LogDir.
var KLog types.KairosLogger

// Log is the process logger. Packages that run inside a build take their own zerolog.Logger instead.
var Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func SetLogger(debug bool) {
	level := "info"

	debugFromEnv := os.Getenv(constants.EnvDebug) != ""
	if debug || debugFromEnv {
		level = "debug"
	}
	_ = os.MkdirAll(constants.LogDir(), os.ModeDir|os.ModePerm)

	KLog = types.NewKairosLoggerWithExtraDirs("masterbooter", level, false, constants.LogDir())
	Log = KLog.Logger
}
