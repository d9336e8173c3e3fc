package usecase

import (
	"element-hunter/internal/config"
	"element-hunter/internal/detect"
	"element-hunter/internal/ports"
	"element-hunter/internal/quality"
	"element-hunter/internal/usecase/adapters"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	Elements adapters.ElementService
	Browser  adapters.BrowserService
}

type Params struct {
	fx.In

	Logger     *zap.Logger
	Config     *config.Config
	Browser    ports.BrowserManager
	Classifier *detect.Classifier
	Enhancer   *detect.Enhancer
	Assembler  *detect.Assembler
	Scorer     *quality.Scorer
	Validator  *quality.Validator
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Elements: factory.CreateElementService(),
		Browser:  factory.CreateBrowserService(),
	}
}
