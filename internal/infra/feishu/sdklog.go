package feishu

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// sdkLogger routes the Lark SDK's own logging into zerolog so nothing is
// written to stdout
type sdkLogger struct {
	log zerolog.Logger
}

func (l sdkLogger) Debug(_ context.Context, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Info(_ context.Context, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Warn(_ context.Context, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l sdkLogger) Error(_ context.Context, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}
