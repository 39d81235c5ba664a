package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Server.APIKey)
	redact(&out.Venues.Kalshi.APIKey)
	redact(&out.Archive.S3.AccessKey)
	redact(&out.Archive.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Oracle.Binance.Symbols = cloneStrings(cfg.Oracle.Binance.Symbols)
	out.Venues.Kalshi.BookTickers = cloneStrings(cfg.Venues.Kalshi.BookTickers)

	if cfg.Strategies != nil {
		out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
		for i, s := range cfg.Strategies {
			s.Types = cloneStrings(s.Types)
			if s.Params != nil {
				params := make(map[string]string, len(s.Params))
				for k, v := range s.Params {
					params[k] = v
				}
				s.Params = params
			}
			out.Strategies[i] = s
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
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
