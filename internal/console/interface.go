package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"element-hunter/internal/entity"
	"element-hunter/internal/usecase"
	"element-hunter/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errExit = errors.New("exit")

// Interface is a line-oriented REPL over the element service. Results are
// printed as indented JSON.
type Interface struct {
	logger   *zap.Logger
	usecase  *usecase.Service
	in       io.Reader
	out      io.Writer
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

type Params struct {
	fx.In

	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	ctx, cancel := context.WithCancel(context.Background())

	return &Interface{
		logger:  params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase: params.Usecase,
		in:      os.Stdin,
		out:     os.Stdout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start reads commands until exit, end of input or Stop.
func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	scanner := bufio.NewScanner(i.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for !i.stopping.Load() {
		fmt.Fprint(i.out, "\n> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if err := i.handleCommand(input); err != nil {
			if errors.Is(err, errExit) {
				break
			}

			i.logger.Debug("Command error", zap.Error(err))
			fmt.Fprintf(i.out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

// Stop cancels the command in flight and ends the read loop.
func (i *Interface) Stop() {
	if i.stopping.Swap(true) {
		return
	}

	i.logger.Info("Stopping console interface...")
	i.cancel()
}

func (i *Interface) handleCommand(input string) error {
	cmd, rest := cut(input)

	switch cmd {
	case "help", "h":
		i.printHelp()

		return nil
	case "exit", "quit", "q":
		fmt.Fprintln(i.out, "Shutting down...")

		return errExit
	case "analyze", "a":
		return i.analyze(strings.Fields(rest))
	case "validate", "v":
		url, sel := cut(rest)

		return i.validate(url, sel)
	case "cross", "c":
		urls, sel := cut(rest)

		return i.cross(strings.Split(urls, ","), sel)
	case "hunt":
		url, path := cut(rest)

		return i.hunt(url, path)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

func (i *Interface) analyze(urls []string) error {
	switch len(urls) {
	case 0:
		return errors.New("usage: analyze <url> [url...]")
	case 1:
		res, err := i.usecase.Elements.AnalyzePage(i.ctx, urls[0])
		if err != nil {
			return err
		}

		return i.print(res)
	}

	res, err := i.usecase.Elements.AnalyzePages(i.ctx, urls)
	if err != nil {
		return err
	}

	return i.print(res)
}

func (i *Interface) validate(url, sel string) error {
	if url == "" || sel == "" {
		return errors.New("usage: validate <url> <selector>")
	}

	res, err := i.usecase.Elements.ValidateSelector(i.ctx, url, sel)
	if err != nil {
		return err
	}

	return i.print(res)
}

func (i *Interface) cross(urls []string, sel string) error {
	if sel == "" {
		return errors.New("usage: cross <url,url,...> <selector>")
	}

	res, err := i.usecase.Elements.ValidateSelectorAcrossPages(i.ctx, urls, sel)
	if err != nil {
		return err
	}

	return i.print(res)
}

func (i *Interface) hunt(url, path string) error {
	if url == "" || path == "" {
		return errors.New("usage: hunt <url> <steps.json>")
	}

	steps, err := LoadSteps(path)
	if err != nil {
		return err
	}

	res, err := i.usecase.Elements.HuntElementsAfterSteps(i.ctx, url, steps)
	if res != nil {
		if perr := i.print(res); perr != nil {
			return perr
		}
	}

	return err
}

func (i *Interface) print(v any) error {
	enc := json.NewEncoder(i.out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// LoadSteps reads a JSON array of steps from path.
func LoadSteps(path string) ([]entity.Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}

	var steps []entity.Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse steps %s: %w", path, err)
	}

	return steps, nil
}

// cut splits off the first whitespace-separated word.
func cut(s string) (string, string) {
	s = strings.TrimSpace(s)

	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}

	return s[:idx], strings.TrimSpace(s[idx+1:])
}

func (i *Interface) printBanner() {
	fmt.Fprintln(i.out, `
  element-hunter
  find testable elements and the selectors that reach them`)
}

func (i *Interface) printHelp() {
	fmt.Fprintln(i.out, `
Available commands:
  analyze, a <url> [url...]          - Detect elements on one or more pages
  validate, v <url> <selector>       - Count and score a selector on a page
  cross, c <url,url,...> <selector>  - Validate a selector across pages
  hunt <url> <steps.json>            - Replay steps, then detect elements
  help, h                            - Show this help message
  exit, quit, q                      - Exit the application`)
}
