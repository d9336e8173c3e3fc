package adapters

import (
	"context"

	"element-hunter/internal/entity"
)

type BrowserService interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	IsReady() bool
}

type ElementService interface {
	AnalyzePage(ctx context.Context, url string) (*entity.PageAnalysis, error)
	AnalyzePages(ctx context.Context, urls []string) ([]*entity.PageAnalysis, error)
	ValidateSelector(ctx context.Context, url, selector string) (*entity.SelectorValidationResult, error)
	ValidateSelectorAcrossPages(ctx context.Context, urls []string, selector string) (*entity.SelectorValidationResult, error)
	HuntElementsAfterSteps(ctx context.Context, startURL string, steps []entity.Step) (*entity.HuntResult, error)
}
