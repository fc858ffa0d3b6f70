package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug    bool
	TestMode bool
	Env      string // DEV (local; default), TEST, QA, PROD
	Build    string
	AppName  string

	RollbarToken string

	API struct {
		BaseURL     string
		SessionPath string
	}

	CSRF struct {
		CookieName string
		HeaderName string
	}

	Heartbeat struct {
		Delay             time.Duration
		ReconnectMinDelay time.Duration
		ReconnectMaxDelay time.Duration
	}

	// DisconnectCodes are the HTTP status codes interpreted as "server
	// unreachable" rather than application errors. 0 stands for a refused
	// or dropped connection.
	DisconnectCodes []int

	LocalStorePath string
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Darasa")
	v.SetDefault("apiBaseURL", "http://localhost:8000")
	v.SetDefault("apiSessionPath", "/api/session/current/")
	v.SetDefault("csrfCookieName", "csrftoken")
	v.SetDefault("csrfHeaderName", "X-CSRFToken")
	v.SetDefault("heartbeatDelay", 150*time.Second)
	v.SetDefault("reconnectMinDelay", 5*time.Second)
	v.SetDefault("reconnectMaxDelay", 600*time.Second)
	v.SetDefault("disconnectCodes", []int{0, 502, 503, 504})
	v.SetDefault("localStorePath", filepath.Join(os.TempDir(), "darasa-store.json"))

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:        v.GetBool("debug"),
		TestMode:     env == "TEST",
		Env:          env,
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		RollbarToken: v.GetString("rollbarToken"),
	}
	conf.API.BaseURL = v.GetString("apiBaseURL")
	conf.API.SessionPath = v.GetString("apiSessionPath")
	conf.CSRF.CookieName = v.GetString("csrfCookieName")
	conf.CSRF.HeaderName = v.GetString("csrfHeaderName")
	conf.Heartbeat.Delay = v.GetDuration("heartbeatDelay")
	conf.Heartbeat.ReconnectMinDelay = v.GetDuration("reconnectMinDelay")
	conf.Heartbeat.ReconnectMaxDelay = v.GetDuration("reconnectMaxDelay")
	conf.DisconnectCodes = getIntSlice(v, "disconnectCodes")
	conf.LocalStorePath = v.GetString("localStorePath")
	return conf
}

func getIntSlice(v *viper.Viper, key string) []int {
	switch vals := v.Get(key).(type) {
	case []int:
		return vals
	case []interface{}:
		out := make([]int, 0, len(vals))
		for _, r := range vals {
			if n, ok := r.(int); ok {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}
