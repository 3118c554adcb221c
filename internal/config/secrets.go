package config

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Feed.APIKey)
	redact(&out.Dispatch.Secret)
	redact(&out.Dispatch.SigningSecret)
	redact(&out.Redis.Password)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices and maps are copied so the redacted value shares nothing mutable.
	out.Feed.Channels = cloneStrings(cfg.Feed.Channels)
	out.Feed.Tickers = cloneStrings(cfg.Feed.Tickers)
	out.Dispatch.Recipients = cloneStrings(cfg.Dispatch.Recipients)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	if cfg.Dispatch.TickerRecipients != nil {
		out.Dispatch.TickerRecipients = make(map[string][]string, len(cfg.Dispatch.TickerRecipients))
		for k, v := range cfg.Dispatch.TickerRecipients {
			out.Dispatch.TickerRecipients[k] = cloneStrings(v)
		}
	}
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
