package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 載入順序：DefaultConfig → YAML 檔案 → 環境變數 → 命令列參數（由 cmd 處理）。
type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		WSPath         string        `yaml:"ws_path"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"` // 空 = 允許所有來源
	} `yaml:"server"`

	WebSocket struct {
		ReadLimit  int64         `yaml:"read_limit"`  // 單一 frame 最大位元組
		SendBuffer int           `yaml:"send_buffer"` // 每條連接的發送緩衝
		WriteWait  time.Duration `yaml:"write_wait"`
		PongWait   time.Duration `yaml:"pong_wait"`
		PingPeriod time.Duration `yaml:"ping_period"` // 必須小於 pong_wait
	} `yaml:"websocket"`

	Limits struct {
		ConnectBurst int64 `yaml:"connect_burst"` // 每 IP 握手
		ConnectRate  int64 `yaml:"connect_rate"`
		MessageBurst int64 `yaml:"message_burst"` // 每連接訊息
		MessageRate  int64 `yaml:"message_rate"`
	} `yaml:"limits"`

	Redis struct {
		Addr      string `yaml:"addr"` // 空 = 使用單機限流
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"` // 空 = 不發佈事件
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.WSPath = "/ws"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.WebSocket.ReadLimit = 64 * 1024
	cfg.WebSocket.SendBuffer = 256
	cfg.WebSocket.WriteWait = 10 * time.Second
	cfg.WebSocket.PongWait = 60 * time.Second
	cfg.WebSocket.PingPeriod = 54 * time.Second

	cfg.Limits.ConnectBurst = 20
	cfg.Limits.ConnectRate = 5
	cfg.Limits.MessageBurst = 120
	cfg.Limits.MessageRate = 60

	cfg.Redis.KeyPrefix = "relay:connect:"

	cfg.NATS.SubjectPrefix = "rooms"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置檔案
//
// 檔案不存在時使用預設值；存在但格式錯誤則回傳錯誤。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 以環境變數覆蓋配置
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("WS_PATH"); ok && v != "" {
		c.Server.WSPath = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("NATS_URL"); ok {
		c.NATS.URL = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port 必須在 1-65535 之間: %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path 必須以 / 開頭: %q", c.Server.WSPath))
	}
	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("websocket.send_buffer 必須大於 0"))
	}
	if c.WebSocket.ReadLimit < 1 {
		errs = append(errs, fmt.Errorf("websocket.read_limit 必須大於 0"))
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, fmt.Errorf("websocket.ping_period 必須介於 0 與 pong_wait 之間"))
	}
	if c.Limits.ConnectBurst < 1 || c.Limits.ConnectRate < 1 {
		errs = append(errs, fmt.Errorf("limits.connect_* 必須大於 0"))
	}
	if c.Limits.MessageBurst < 1 || c.Limits.MessageRate < 1 {
		errs = append(errs, fmt.Errorf("limits.message_* 必須大於 0"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format 必須是 text 或 json: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
