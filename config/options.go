package config

import "time"

var (
	SearchRequestTimeout       = 8 * time.Second
	StreamURLRequestTimeout    = 10 * time.Second
	AlbumRequestTimeout        = 8 * time.Second
	ArtistRequestTimeout       = 8 * time.Second
	TokenRequestTimeout        = 5 * time.Second
	DownloaderPollTimeout      = 90 * time.Second
	DownloaderPollMaxInterval  = 5 * time.Second
	ArtworkRequestTimeout      = 4 * time.Second
	CoverDownloadTimeout       = 10 * time.Second
	TrackDownloadTimeout       = 10 * time.Minute
	ShutdownGracePeriod        = 5 * time.Second
	DefaultArtworkTTL          = 6 * time.Hour
	DefaultMinPayloadBytes     = int64(100 * 1024)
	DefaultSearchLimit         = 10
	DefaultPreferredQuality    = "LOSSLESS"
	DefaultRecentDownloadsSize = 50
)
