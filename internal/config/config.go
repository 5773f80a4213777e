package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

// EnvFile overrides the location of the config file.
const EnvFile = "GOSH_CONFIG"

type Config struct {
	Command    string   `json:"-"`
	ScriptFile string   `json:"-"`
	ScriptArgs []string `json:"-"`
	ReadStdin  bool     `json:"-"`
	ConfigFile string   `json:"-"`
	// Session identifies this shell in debug logs and $GOSH_SESSION.
	Session string `json:"-"`

	NoRC        bool `json:"-"`
	NoProfile   bool `json:"-"`
	Debug       bool `json:"-"`
	Interactive bool `json:"-"`
	Login       bool `json:"-"`

	// JobControl is auto, on or off. auto enables it for interactive
	// shells on a terminal.
	JobControl    string `json:"job_control" validate:"oneof=auto on off"`
	Pipefail      bool   `json:"pipefail"`
	MaxJobHistory int    `json:"max_job_history" validate:"gte=1,lte=100000"`
	PollInterval  string `json:"poll_interval" validate:"duration"`

	PS1 string `json:"ps1"`
	PS2 string `json:"ps2"`

	EnableColors bool   `json:"colors"`
	DebugLog     string `json:"debug_log"`
	RCFile       string `json:"rc_file"`
}

func New() *Config {
	return &Config{
		JobControl:    "auto",
		MaxJobHistory: 100,
		PollInterval:  "200ms",

		PS1: "\\u@\\h:\\w\\$ ",
		PS2: "> ",

		EnableColors: true,
		RCFile:       "~/.goshrc",
	}
}

// DefaultPath is $GOSH_CONFIG, or config.yaml in the user's gosh config
// directory.
func DefaultPath() string {
	if p := os.Getenv(EnvFile); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gosh", "config.yaml")
}

// Load reads the YAML file at path over the current values. A missing file
// leaves the config unchanged.
func (c *Config) Load(fs afero.Fs, path string) error {
	if path == "" {
		return nil
	}
	data, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return c.Validate()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: invalid value %v (%s)", fe.Field(), fe.Value(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Poll is PollInterval as a duration.
func (c *Config) Poll() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// ExpandHome replaces a leading ~ with home.
func ExpandHome(path, home string) string {
	if home == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
