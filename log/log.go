package log

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/pretty"

	"github.com/xeptore/melo/constant"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

func newBaseLogger() zerolog.Logger {
	return zerolog.
		New(io.Discard).
		With().
		Dict(
			"app",
			zerolog.Dict().
				Str("version", constant.Version).
				Str("compilation_time", constant.CompileTime.Format(time.RFC3339)),
		).
		Timestamp().
		Logger().
		Level(zerolog.TraceLevel)
}

func NewPretty(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(newPrettyWriter(w))
}

func NewPacked(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(w)
}

// New builds a logger for the given output format and level name. Empty values
// select the pretty format and the info level.
func New(w io.Writer, format, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(level))
		if nil != err {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %v", level, err)
		}
		lvl = l
	}

	switch strings.ToLower(format) {
	case "", FormatPretty:
		return NewPretty(w).Level(lvl), nil
	case FormatJSON:
		return NewPacked(w).Level(lvl), nil
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}
}

func newPrettyWriter(out io.Writer) prettyWriter {
	return prettyWriter{out}
}

type prettyWriter struct {
	out io.Writer
}

func (p prettyWriter) Write(line []byte) (int, error) {
	if n, err := p.out.Write(pretty.Color(pretty.Pretty(line), nil)); nil != err {
		return n, err
	}
	return len(line), nil
}
