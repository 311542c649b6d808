package app

import "github.com/cosmicwatch/neowatch/internal/feed"

// ClientConfig converts FeedConfig to the feed package representation.
func (c FeedConfig) ClientConfig() feed.Config {
	return feed.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}
