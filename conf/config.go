package conf

// App-specific configuration structs & data.
// Must live in a package of its own so other packages within the app can depend on it without
// causing a circular dependency.

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chimbori.dev/cropshot/core"
	"gopkg.in/yaml.v3"
)

var AppName = "Cropshot"

var BuildTimestamp string

var Config AppConfig

type AppConfig struct {
	DataDir  string // The directory containing `cropshot.yml` is where all data will be stored.
	Database struct {
		Url string `yaml:"url"` // Optional; the capture ledger & error logs are disabled when empty.
	} `yaml:"database"`
	Web struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"web"`
	Browser struct {
		ExecPath          string        `yaml:"exec-path"`
		RemoteUrl         string        `yaml:"remote-url"`
		NoSandbox         *bool         `yaml:"no-sandbox"`
		MaxSessions       int           `yaml:"max-sessions"`
		NavigationTimeout time.Duration `yaml:"navigation-timeout"`
		NetworkIdle       struct {
			Quiet       time.Duration `yaml:"quiet"`
			MaxInflight int           `yaml:"max-inflight"`
		} `yaml:"network-idle"`
	} `yaml:"browser"`
	Capture struct {
		SelectorTimeout time.Duration `yaml:"selector-timeout"`
		DefaultWait     time.Duration `yaml:"default-wait"`
		RequestTimeout  time.Duration `yaml:"request-timeout"`
	} `yaml:"capture"`
	Assets struct {
		Dir          string `yaml:"dir"`
		UrlPrefix    string `yaml:"url-prefix"`
		Format       string `yaml:"format"`
		MaxWidth     int    `yaml:"max-width"`
		MaxSizeBytes int64  `yaml:"max-size-bytes"`
	} `yaml:"assets"`
	Logs struct {
		Retention time.Duration `yaml:"retention"`
	} `yaml:"logs"`
	Debug bool `yaml:"debug"`
}

var configYmlPath string

func ReadConfig(configYmlFile string) (AppConfig, error) {
	if BuildTimestamp == "" {
		BuildTimestamp = time.Now().Local().Format("2006-01-02 15:04:05")
	}

	c := &AppConfig{}
	var err error
	configYmlPath, err = filepath.Abs(configYmlFile)
	if err != nil {
		setDefaultsAndPrint(c)
		return *c, fmt.Errorf("Failed to get path to config file: %w", err)
	}

	buf, err := os.ReadFile(configYmlPath)
	if err != nil {
		setDefaultsAndPrint(c)
		return *c, fmt.Errorf("Failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		setDefaultsAndPrint(c)
		return *c, fmt.Errorf("Failed to parse config: %w", err)
	}

	setDefaultsAndPrint(c)
	return *c, err
}

// Defaults returns a config with every default applied, rooted at dataDir.
// Used by tests & by the one-shot CLI mode when no config file is present.
func Defaults(dataDir string) AppConfig {
	configYmlPath = filepath.Join(dataDir, "cropshot.yml")
	c := &AppConfig{}
	setDefaults(c)
	return *c
}

func setDefaults(c *AppConfig) {
	c.DataDir = filepath.Dir(configYmlPath)
	if c.Web.Host == "" {
		// Don’t replace this by string(…); the net.IP --> string conversion will fail.
		c.Web.Host = fmt.Sprintf("%s", core.GetOutboundIP())
	}
	if c.Web.Port == 0 {
		c.Web.Port = 9999
	}

	// Chrome’s sandbox does not work inside most containers, so it is off unless explicitly enabled.
	if c.Browser.NoSandbox == nil {
		c.Browser.NoSandbox = core.Ptr(true)
	}
	if c.Browser.MaxSessions <= 0 {
		c.Browser.MaxSessions = 2
	}
	if c.Browser.NavigationTimeout == 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.NetworkIdle.Quiet == 0 {
		c.Browser.NetworkIdle.Quiet = 500 * time.Millisecond
	}
	if c.Browser.NetworkIdle.MaxInflight <= 0 {
		c.Browser.NetworkIdle.MaxInflight = 2
	}

	if c.Capture.SelectorTimeout == 0 {
		c.Capture.SelectorTimeout = 10 * time.Second
	}
	if c.Capture.DefaultWait == 0 {
		c.Capture.DefaultWait = time.Second
	}
	if c.Capture.RequestTimeout == 0 {
		c.Capture.RequestTimeout = 5 * time.Minute
	}

	if c.Assets.Dir == "" {
		c.Assets.Dir = filepath.Join(c.DataDir, "screenshots")
	}
	if c.Assets.UrlPrefix == "" {
		c.Assets.UrlPrefix = "/screenshots"
	}
	if c.Assets.Format == "" {
		c.Assets.Format = "png"
	}
	if c.Assets.MaxSizeBytes == 0 {
		c.Assets.MaxSizeBytes = 1 * 1024 * 1024 * 1024 // 1GB
	}

	if c.Logs.Retention == 0 {
		c.Logs.Retention = 30 * 24 * time.Hour
	}
}

func setDefaultsAndPrint(c *AppConfig) {
	setDefaults(c)

	// Print warnings for unsafe settings, just as FYI.
	json, _ := json.MarshalIndent(*c, "", "\t")
	fmt.Fprintln(os.Stderr, string(json))
	if c.Debug {
		slog.Warn("Debug mode is enabled")
	}
	if *c.Browser.NoSandbox {
		slog.Warn("Chrome sandbox is disabled; only capture pages you trust")
	}
	if c.Database.Url == "" {
		slog.Warn("No database configured; capture ledger & error logs are disabled")
	}
}
