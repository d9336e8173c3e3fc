package usecase

import (
	"element-hunter/internal/usecase/adapters"
)

type serviceFactory struct {
	deps Params
}

func newServiceFactory(deps Params) *serviceFactory {
	return &serviceFactory{
		deps: deps,
	}
}

func (f *serviceFactory) CreateElementService() adapters.ElementService {
	return NewElementService(ElementServiceParams{
		Browser:    f.deps.Browser,
		Classifier: f.deps.Classifier,
		Enhancer:   f.deps.Enhancer,
		Assembler:  f.deps.Assembler,
		Scorer:     f.deps.Scorer,
		Validator:  f.deps.Validator,
		Config:     f.deps.Config,
		Logger:     f.deps.Logger,
	})
}

func (f *serviceFactory) CreateBrowserService() adapters.BrowserService {
	return f.deps.Browser
}
