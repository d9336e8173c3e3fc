package bootstrap

import (
	"time"

	"element-hunter/internal/browser"
	"element-hunter/internal/config"
	"element-hunter/internal/console"
	"element-hunter/internal/detect"
	"element-hunter/internal/quality"
	"element-hunter/internal/selector"
	"element-hunter/internal/usecase"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// startTimeout covers a first-run driver download.
const startTimeout = 2 * time.Minute

// Module provides the whole detection stack and launches the browser driver
// when the app starts.
var Module = fx.Options(
	fx.Provide(
		config.GetConfig,
		newLogger,

		browser.NewDriver,

		selector.NewEngine,
		detect.NewClassifier,
		detect.NewEnhancer,
		detect.NewAssembler,
		quality.NewScorer,
		quality.NewValidator,

		usecase.NewUsecase,
	),

	fx.Invoke(
		newTraceProvider,
		manageBrowser,
	),

	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		l := &fxevent.ZapLogger{Logger: logger}
		l.UseLogLevel(zap.DebugLevel)

		return l
	}),

	fx.StartTimeout(startTimeout),
)

// NewApp builds an application around Module. extra typically holds an
// fx.Populate for the caller's entry point.
func NewApp(extra ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{Module}, extra...)...)
}

// NewConsoleApp is NewApp plus the interactive console.
func NewConsoleApp() *fx.App {
	return NewApp(
		fx.Provide(console.NewInterface),
		fx.Invoke(runConsole),
	)
}
