package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Relay: RelayConfig{
			EndpointURL:      "http://localhost:5678/webhook/chat",
			MaxRetries:       3,
			BaseRetryDelayMs: 1000,
			TimeoutSeconds:   60,
		},
		Widget: WidgetConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		History: HistoryConfig{
			Backend:               "sqlite",
			DBPath:                "~/.chatrelay/history.db",
			MaxMessagesPerSession: 100,
			RetentionDays:         365,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
