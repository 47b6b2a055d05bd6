package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Auth        AuthDirConfig  `toml:"auth"`
	Output      OutputConfig   `toml:"output"`
	Jobs        JobsConfig     `toml:"jobs"`
	Browser     BrowserConfig  `toml:"browser"`
	Scraper     ScraperConfig  `toml:"scraper"`
	Sidebars    SidebarsConfig `toml:"sidebars"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects the job/credential persistence backend
type StorageConfig struct {
	Type   string       `toml:"type"` // "file" (one JSON record per job) or "badger"
	Dir    string       `toml:"dir"`  // Root directory for the file backend
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for log lines (default: "15:04:05")
}

// AuthDirConfig contains configuration for cookie export loading
type AuthDirConfig struct {
	CredentialsDir string `toml:"credentials_dir"` // Directory containing <domain>.json cookie exports
}

// OutputConfig controls where job CSV files are written
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// JobsConfig contains job lifecycle settings
type JobsConfig struct {
	RetentionAge      Duration `toml:"retention_age"`      // Jobs not modified for longer than this are purged
	RetentionSchedule string   `toml:"retention_schedule"` // Cron descriptor for the periodic sweep
}

// BrowserConfig holds the chromedp launch settings for the single automated session
type BrowserConfig struct {
	Headless      bool     `toml:"headless"`
	NoSandbox     bool     `toml:"no_sandbox"`
	DisableGPU    bool     `toml:"disable_gpu"`
	UserAgent     string   `toml:"user_agent"`
	UserDataDir   string   `toml:"user_data_dir"`  // Persistent profile so sidebar extensions keep their state
	ExtensionDirs []string `toml:"extension_dirs"` // Unpacked sidebar extensions loaded at launch
	WindowWidth   int      `toml:"window_width"`
	WindowHeight  int      `toml:"window_height"`
	LaunchTimeout Duration `toml:"launch_timeout"`
	ActionTimeout Duration `toml:"action_timeout"` // Upper bound for a single navigate/click/evaluate
}

// ScraperConfig describes the search results view and how it is paced and paginated
type ScraperConfig struct {
	PrimaryDomain     string           `toml:"primary_domain"`      // Domain whose stored cookies authenticate the session
	SearchURLPrefixes []string         `toml:"search_url_prefixes"` // Accepted shapes for a job's source URL
	LoginWallSelector string           `toml:"login_wall_selector"` // Present when the stored session is no longer valid
	ResultsSelector   string           `toml:"results_selector"`    // Result list container
	ResultsTimeout    Duration         `toml:"results_timeout"`
	Pagination        PaginationConfig `toml:"pagination"`
	Pacing            PacingConfig     `toml:"pacing"`
}

// PaginationConfig drives the pagination advancer
type PaginationConfig struct {
	ItemSelector       string   `toml:"item_selector"`          // One result row
	ItemIdentitySel    string   `toml:"item_identity_selector"` // Link inside a row identifying it
	ExhaustedSelector  string   `toml:"exhausted_selector"`     // "No more results" banner
	NextSelector       string   `toml:"next_selector"`          // Generic "next" control
	PageButtonFormat   string   `toml:"page_button_format"`     // fmt pattern for a numbered page control
	ActivePageSelector string   `toml:"active_page_selector"`   // Currently selected page number
	MaxAttempts        int      `toml:"max_attempts"`
	SettleTimeout      Duration `toml:"settle_timeout"`
	PollInterval       Duration `toml:"poll_interval"`
	PageParams         []string `toml:"page_params"`   // URL query keys holding a 1-based page number
	OffsetParams       []string `toml:"offset_params"` // URL query keys holding a row offset
	PageSize           int      `toml:"page_size"`
}

// PacingConfig holds the human-pacing bounds
type PacingConfig struct {
	MinDelay     Duration `toml:"min_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	ScrollSteps  int      `toml:"scroll_steps"`
	ScrollMin    int      `toml:"scroll_min"` // pixels
	ScrollMax    int      `toml:"scroll_max"` // pixels
	MinInterval  Duration `toml:"min_interval"`
	ScrollTarget string   `toml:"scroll_target"` // Optional scroll container selector; window when empty
}

// SidebarsConfig holds the selector profiles for both sidebar tools
type SidebarsConfig struct {
	Primary    SidebarProfile `toml:"primary"`
	Enrichment SidebarProfile `toml:"enrichment"`
}

// SidebarProfile describes how to drive one third-party sidebar
type SidebarProfile struct {
	Name             string            `toml:"name"`
	CredentialDomain string            `toml:"credential_domain"`  // Domain of the cookies used to re-authenticate
	FrameURLContains string            `toml:"frame_url_contains"` // Sidebar lives in a separate frame target when set
	ToggleSelector   string            `toml:"toggle_selector"`    // On the main page; opens the sidebar
	PanelSelector    string            `toml:"panel_selector"`     // Visible when the sidebar is open
	LoginSelector    string            `toml:"login_selector"`     // Visible when the sidebar wants a login
	ResultsSelector  string            `toml:"results_selector"`
	RowSelector      string            `toml:"row_selector"`
	Fields           map[string]string `toml:"fields"` // field name -> "css" or "css@attr", alternatives joined by "||"
	ReadyTimeout     Duration          `toml:"ready_timeout"`
	ResultsTimeout   Duration          `toml:"results_timeout"`
	Attempts         int               `toml:"attempts"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "file",
			Dir:  "./data",
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Auth: AuthDirConfig{
			CredentialsDir: "./auth",
		},
		Output: OutputConfig{
			Dir: "./output",
		},
		Jobs: JobsConfig{
			RetentionAge:      Duration{72 * time.Hour},
			RetentionSchedule: "@every 6h",
		},
		Browser: BrowserConfig{
			Headless:      false, // sidebar extensions need a headed (or new-headless) browser
			NoSandbox:     false,
			DisableGPU:    true,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			UserDataDir:   "./data/chrome-profile",
			WindowWidth:   1440,
			WindowHeight:  900,
			LaunchTimeout: Duration{45 * time.Second},
			ActionTimeout: Duration{30 * time.Second},
		},
		Scraper: ScraperConfig{
			PrimaryDomain: "linkedin.com",
			SearchURLPrefixes: []string{
				"https://www.linkedin.com/sales/search/people",
				"https://www.linkedin.com/sales/lists/people",
			},
			LoginWallSelector: "form.login__form, #username",
			ResultsSelector:   "ol.artdeco-list, [data-x-search-results-container]",
			ResultsTimeout:    Duration{30 * time.Second},
			Pagination: PaginationConfig{
				ItemSelector:       "li.artdeco-list__item",
				ItemIdentitySel:    "a[data-control-name='view_lead_panel_via_search_lead_name'], a[href*='/sales/lead/']",
				ExhaustedSelector:  ".search-results__no-results, [data-test-no-results]",
				NextSelector:       "button.artdeco-pagination__button--next",
				PageButtonFormat:   "li[data-test-pagination-page-btn='%d'] button",
				ActivePageSelector: "li.artdeco-pagination__indicator--number.active, li.selected button",
				MaxAttempts:        3,
				SettleTimeout:      Duration{20 * time.Second},
				PollInterval:       Duration{500 * time.Millisecond},
				PageParams:         []string{"page"},
				OffsetParams:       []string{"start", "offset"},
				PageSize:           25,
			},
			Pacing: PacingConfig{
				MinDelay:    Duration{2 * time.Second},
				MaxDelay:    Duration{5 * time.Second},
				ScrollSteps: 6,
				ScrollMin:   250,
				ScrollMax:   650,
				MinInterval: Duration{1 * time.Second},
			},
		},
		Sidebars: SidebarsConfig{
			Primary: SidebarProfile{
				Name:             "primary",
				CredentialDomain: "linkedin.com",
				ToggleSelector:   "[data-sidebar-toggle='primary']",
				PanelSelector:    "[data-sidebar='primary']",
				LoginSelector:    "[data-sidebar='primary'] [data-login-required]",
				ResultsSelector:  "[data-sidebar='primary'] [data-results]",
				RowSelector:      "[data-sidebar='primary'] [data-lead-row]",
				Fields: map[string]string{
					"full_name":   "[data-field='full_name']",
					"first_name":  "[data-field='first_name']",
					"last_name":   "[data-field='last_name']",
					"title":       "[data-field='title']",
					"company":     "[data-field='company']",
					"location":    "[data-field='location']",
					"profile_url": "a[data-field='profile']@href",
					"email":       "[data-field='email']",
				},
				ReadyTimeout:   Duration{20 * time.Second},
				ResultsTimeout: Duration{45 * time.Second},
				Attempts:       3,
			},
			Enrichment: SidebarProfile{
				Name:             "enrichment",
				CredentialDomain: "",
				ToggleSelector:   "[data-sidebar-toggle='enrichment']",
				PanelSelector:    "[data-sidebar='enrichment']",
				LoginSelector:    "[data-sidebar='enrichment'] [data-login-required]",
				ResultsSelector:  "[data-sidebar='enrichment'] [data-results]",
				RowSelector:      "[data-sidebar='enrichment'] [data-contact-row]",
				Fields: map[string]string{
					"full_name":  "[data-field='name']",
					"first_name": "[data-field='first_name']",
					"last_name":  "[data-field='last_name']",
					"company":    "[data-field='company']",
					"domain":     "[data-field='domain'] || a[data-field='website']@href",
				},
				ReadyTimeout:   Duration{20 * time.Second},
				ResultsTimeout: Duration{45 * time.Second},
				Attempts:       3,
			},
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROSPECTOR_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PROSPECTOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PROSPECTOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if storageType := os.Getenv("PROSPECTOR_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if dir := os.Getenv("PROSPECTOR_STORAGE_DIR"); dir != "" {
		config.Storage.Dir = dir
	}
	if badgerPath := os.Getenv("PROSPECTOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("PROSPECTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PROSPECTOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if authDir := os.Getenv("PROSPECTOR_AUTH_CREDENTIALS_DIR"); authDir != "" {
		config.Auth.CredentialsDir = authDir
	}
	if outputDir := os.Getenv("PROSPECTOR_OUTPUT_DIR"); outputDir != "" {
		config.Output.Dir = outputDir
	}

	// Jobs configuration
	if age := os.Getenv("PROSPECTOR_JOBS_RETENTION_AGE"); age != "" {
		if d, err := time.ParseDuration(age); err == nil {
			config.Jobs.RetentionAge = Duration{d}
		}
	}
	if schedule := os.Getenv("PROSPECTOR_JOBS_RETENTION_SCHEDULE"); schedule != "" {
		config.Jobs.RetentionSchedule = schedule
	}

	// Browser configuration
	if headless := os.Getenv("PROSPECTOR_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if noSandbox := os.Getenv("PROSPECTOR_BROWSER_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Browser.NoSandbox = ns
		}
	}
	if userDataDir := os.Getenv("PROSPECTOR_BROWSER_USER_DATA_DIR"); userDataDir != "" {
		config.Browser.UserDataDir = userDataDir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate rejects configurations the runner cannot work with
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "file", "badger":
	default:
		return fmt.Errorf("unsupported storage type %q (expected file or badger)", c.Storage.Type)
	}
	if len(c.Scraper.SearchURLPrefixes) == 0 {
		return fmt.Errorf("scraper.search_url_prefixes must not be empty")
	}
	if c.Scraper.Pagination.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.pagination.max_attempts must be greater than 0")
	}
	if c.Jobs.RetentionAge.Duration <= 0 {
		return fmt.Errorf("jobs.retention_age must be positive")
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
