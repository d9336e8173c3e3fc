package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPlaywright = "playwright"
	DriverRod        = "rod"
)

type Config struct {
	AppConfig       *AppConfig
	BrowserConfig   *BrowserConfig
	DetectionConfig *DetectionConfig
	SelectorConfig  *SelectorConfig
	QualityConfig   *QualityConfig
}

type AppConfig struct {
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	Debug          bool   `envconfig:"DEBUG" default:"false"`
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

type BrowserConfig struct {
	Driver         string `envconfig:"BROWSER_DRIVER" default:"playwright"`
	Headless       bool   `envconfig:"BROWSER_HEADLESS" default:"true"`
	NavTimeout     int    `envconfig:"BROWSER_NAV_TIMEOUT" default:"30000"`
	StepTimeout    int    `envconfig:"BROWSER_STEP_TIMEOUT" default:"10000"`
	WaitUntil      string `envconfig:"BROWSER_WAIT_UNTIL" default:"domcontentloaded"`
	SettleDelay    int    `envconfig:"BROWSER_SETTLE_DELAY" default:"500"`
	Concurrency    int    `envconfig:"BROWSER_CONCURRENCY" default:"3"`
	ViewportWidth  int    `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1366"`
	ViewportHeight int    `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"900"`
	UserAgent      string `envconfig:"BROWSER_USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"`
	IgnoreHTTPS    bool   `envconfig:"BROWSER_IGNORE_HTTPS_ERRORS" default:"false"`
}

// DetectionConfig drives the collector, classifier and assembler.
// The weights are empirically tuned and kept configurable for calibration.
type DetectionConfig struct {
	UseAdvancedSelectors bool `envconfig:"DETECT_USE_ADVANCED_SELECTORS" default:"true"`
	UseEnhancedFiltering bool `envconfig:"DETECT_USE_ENHANCED_FILTERING" default:"true"`
	MaxElements          int  `envconfig:"DETECT_MAX_ELEMENTS" default:"200"`
	MaxScanned           int  `envconfig:"DETECT_MAX_SCANNED" default:"3000"`
	MaxTableRows         int  `envconfig:"DETECT_MAX_TABLE_ROWS" default:"50"`
	MaxOptions           int  `envconfig:"DETECT_MAX_OPTIONS" default:"100"`
	CandidatesPerElement int  `envconfig:"DETECT_CANDIDATES_PER_ELEMENT" default:"3"`

	TestAttrWeight    float64 `envconfig:"DETECT_WEIGHT_TEST_ATTR" default:"0.3"`
	InteractiveWeight float64 `envconfig:"DETECT_WEIGHT_INTERACTIVE" default:"0.25"`
	TextWeight        float64 `envconfig:"DETECT_WEIGHT_TEXT" default:"0.15"`
	AriaWeight        float64 `envconfig:"DETECT_WEIGHT_ARIA" default:"0.15"`
	IdentityWeight    float64 `envconfig:"DETECT_WEIGHT_IDENTITY" default:"0.1"`
	FormWeight        float64 `envconfig:"DETECT_WEIGHT_FORM" default:"0.05"`
	ConfidenceFloor   float64 `envconfig:"DETECT_CONFIDENCE_FLOOR" default:"0.1"`
}

type SelectorConfig struct {
	ConfidenceFloor          float64 `envconfig:"SELECTOR_CONFIDENCE_FLOOR" default:"0.75"`
	MaxCandidates            int     `envconfig:"SELECTOR_MAX_CANDIDATES" default:"10"`
	XPathMaxDepth            int     `envconfig:"SELECTOR_XPATH_MAX_DEPTH" default:"5"`
	RelationalDepth          int     `envconfig:"SELECTOR_RELATIONAL_DEPTH" default:"3"`
	PrioritizeUniqueness     bool    `envconfig:"SELECTOR_PRIORITIZE_UNIQUE" default:"true"`
	MinCandidatesBeforeXPath int     `envconfig:"SELECTOR_MIN_CANDIDATES_BEFORE_XPATH" default:"3"`
	MaxTextLength            int     `envconfig:"SELECTOR_MAX_TEXT_LENGTH" default:"50"`
}

type QualityConfig struct {
	UniquenessWeight    float64 `envconfig:"QUALITY_WEIGHT_UNIQUENESS" default:"0.4"`
	StabilityWeight     float64 `envconfig:"QUALITY_WEIGHT_STABILITY" default:"0.3"`
	SpecificityWeight   float64 `envconfig:"QUALITY_WEIGHT_SPECIFICITY" default:"0.15"`
	AccessibilityWeight float64 `envconfig:"QUALITY_WEIGHT_ACCESSIBILITY" default:"0.15"`
	Alternatives        int     `envconfig:"QUALITY_ALTERNATIVES" default:"5"`
}

// GetConfig loads .env when present and then reads the environment.
func GetConfig() (*Config, error) {
	_ = godotenv.Load()

	return New()
}

// New reads the environment only; unset values take their defaults.
func New() (*Config, error) {
	var conf Config

	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("read config from env vars: %w", err)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func (c *Config) validate() error {
	switch c.BrowserConfig.Driver {
	case DriverPlaywright, DriverRod:
	default:
		return fmt.Errorf("unsupported BROWSER_DRIVER %q", c.BrowserConfig.Driver)
	}

	if c.BrowserConfig.Concurrency < 1 {
		c.BrowserConfig.Concurrency = 1
	}

	if c.SelectorConfig.XPathMaxDepth < 1 {
		c.SelectorConfig.XPathMaxDepth = 1
	}

	return nil
}

func (b *BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(b.NavTimeout) * time.Millisecond
}

func (b *BrowserConfig) StepDuration() time.Duration {
	return time.Duration(b.StepTimeout) * time.Millisecond
}

func (b *BrowserConfig) Settle() time.Duration {
	return time.Duration(b.SettleDelay) * time.Millisecond
}
