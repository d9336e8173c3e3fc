package console

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"element-hunter/internal/entity"
	"element-hunter/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeElements struct {
	calls []string
	steps []entity.Step
}

func (f *fakeElements) AnalyzePage(ctx context.Context, url string) (*entity.PageAnalysis, error) {
	f.calls = append(f.calls, "analyze "+url)

	return &entity.PageAnalysis{URL: url, Success: true, Elements: []entity.DetectedElement{}}, nil
}

func (f *fakeElements) AnalyzePages(ctx context.Context, urls []string) ([]*entity.PageAnalysis, error) {
	f.calls = append(f.calls, "analyze-many "+strings.Join(urls, " "))

	return []*entity.PageAnalysis{}, nil
}

func (f *fakeElements) ValidateSelector(ctx context.Context, url, selector string) (*entity.SelectorValidationResult, error) {
	f.calls = append(f.calls, "validate "+url+" "+selector)

	return &entity.SelectorValidationResult{URL: url, Selector: selector, IsValid: true, IsUnique: true, ElementCount: 1}, nil
}

func (f *fakeElements) ValidateSelectorAcrossPages(ctx context.Context, urls []string, selector string) (*entity.SelectorValidationResult, error) {
	f.calls = append(f.calls, "cross "+strings.Join(urls, "|")+" "+selector)

	return &entity.SelectorValidationResult{Selector: selector}, nil
}

func (f *fakeElements) HuntElementsAfterSteps(ctx context.Context, startURL string, steps []entity.Step) (*entity.HuntResult, error) {
	f.calls = append(f.calls, "hunt "+startURL)
	f.steps = steps

	return &entity.HuntResult{StepsExecuted: len(steps), Analysis: &entity.PageAnalysis{URL: startURL}}, nil
}

func newTestInterface(input string) (*Interface, *fakeElements, *bytes.Buffer) {
	fake := &fakeElements{}
	out := &bytes.Buffer{}

	i := NewInterface(Params{Logger: zap.NewNop(), Usecase: &usecase.Service{Elements: fake}})
	i.in = strings.NewReader(input)
	i.out = out

	return i, fake, out
}

func TestConsoleDispatchesCommands(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"analyze https://a.test/",
		"a https://a.test/ https://b.test/",
		`validate https://a.test/ button:has-text("Log in")`,
		`cross https://a.test/,https://b.test/ nav > a.home`,
		"exit",
		"analyze https://never.test/",
	}, "\n")

	i, fake, out := newTestInterface(input)
	require.NoError(t, i.Start())

	assert.Equal(t, []string{
		"analyze https://a.test/",
		"analyze-many https://a.test/ https://b.test/",
		`validate https://a.test/ button:has-text("Log in")`,
		"cross https://a.test/|https://b.test/ nav > a.home",
	}, fake.calls)

	assert.Contains(t, out.String(), `"isUnique": true`)
	assert.Contains(t, out.String(), "Shutting down...")
}

func TestConsoleReportsUsageErrors(t *testing.T) {
	t.Parallel()

	i, fake, out := newTestInterface("validate https://a.test/\nfrobnicate\n")
	require.NoError(t, i.Start())

	assert.Empty(t, fake.calls)
	assert.Contains(t, out.String(), "usage: validate <url> <selector>")
	assert.Contains(t, out.String(), `unknown command "frobnicate"`)
}

func TestConsoleHuntLoadsSteps(t *testing.T) {
	t.Parallel()

	steps := []entity.Step{
		{Action: entity.ActionTypeClick, Selector: "#open"},
		{Action: entity.ActionTypeWait, WaitMs: 250},
	}

	data, err := json.Marshal(steps)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	i, fake, out := newTestInterface("hunt https://a.test/ " + path + "\n")
	require.NoError(t, i.Start())

	assert.Equal(t, []string{"hunt https://a.test/"}, fake.calls)
	assert.Equal(t, steps, fake.steps)
	assert.Contains(t, out.String(), `"stepsExecuted": 2`)
}

func TestLoadStepsRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"action":"click"}`), 0o600))

	_, err := LoadSteps(path)
	assert.Error(t, err)

	_, err = LoadSteps(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStopEndsLoop(t *testing.T) {
	t.Parallel()

	i, fake, _ := newTestInterface("analyze https://a.test/\n")
	i.Stop()
	i.Stop()

	require.NoError(t, i.Start())
	assert.Empty(t, fake.calls)
	assert.Error(t, i.ctx.Err())
}
