// Package tidalproxy talks to a cluster of HiFi API style proxies in front of
// the TIDAL catalog.
package tidalproxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/provider"
	"github.com/xeptore/melo/ratelimit"
	"github.com/xeptore/melo/waitqueue"
)

const Kind = "tidal-proxy"

var ErrNoHosts = errors.New("no proxy hosts configured")

type Settings struct {
	Hosts             []string `yaml:"hosts"`
	CountryCode       string   `yaml:"country_code"`
	RequestsPerMinute int32    `yaml:"requests_per_minute"`
}

type Module struct {
	info        provider.Info
	hosts       []string
	countryCode string
	next        atomic.Uint32
	queue       *waitqueue.WaitQueue
	logger      zerolog.Logger
}

// Factory decodes tidal-proxy manifest settings.
func Factory(ctx context.Context, info provider.Info, settings provider.Settings, logger zerolog.Logger) (provider.Module, error) {
	var s Settings
	if err := settings.Decode(&s); nil != err {
		return nil, fmt.Errorf("invalid %s settings: %v", Kind, err)
	}
	return New(ctx, info, s, logger)
}

func New(ctx context.Context, info provider.Info, s Settings, logger zerolog.Logger) (*Module, error) {
	hosts := make([]string, 0, len(s.Hosts))
	for _, h := range s.Hosts {
		h = strings.TrimRight(strings.TrimSpace(h), "/")
		if h == "" {
			continue
		}
		if u, err := url.Parse(h); nil != err || !u.IsAbs() {
			return nil, fmt.Errorf("invalid proxy host %q", h)
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	rpm := s.RequestsPerMinute
	if rpm <= 0 {
		rpm = ratelimit.DefaultRequestsPerMinute
	}
	return &Module{
		info:        info,
		hosts:       hosts,
		countryCode: s.CountryCode,
		next:        atomic.Uint32{},
		queue:       waitqueue.New(ctx, rpm, time.Minute, ratelimit.DefaultRequestSpacing),
		logger:      logger.With().Str("module", info.ID).Str("kind", Kind).Logger(),
	}, nil
}

func (m *Module) Info() provider.Info {
	return m.info
}

func (m *Module) Close() {
	m.queue.Close()
}

// call sends path to one host after another, starting from a rotating
// offset, until a host answers with a body that parse accepts. Not found
// answers are final.
func (m *Module) call(ctx context.Context, timeout time.Duration, path string, params url.Values, parse func(body []byte) error) error {
	if m.countryCode != "" {
		params.Set("countryCode", m.countryCode)
	}
	start := int(m.next.Add(1))
	n := len(m.hosts)

	var lastErr error
	err := try.Do(func(attempt int) (retry bool, err error) {
		attemptRemained := attempt < n
		host := m.hosts[(start+attempt-1)%n]
		reqURL := host + path + "?" + params.Encode()
		logger := m.logger.With().Str("host", host).Str("path", path).Int("attempt", attempt).Logger()

		err = m.queue.Do(ctx, func() error {
			body, err := httputil.Get(ctx, timeout, reqURL, nil)
			if nil != err {
				return err
			}
			return parse(body)
		})
		if nil != err {
			lastErr = err
			switch {
			case errutil.IsContext(ctx):
				return false, ctx.Err()
			case errors.Is(err, httputil.ErrNotFound):
				return false, err
			case httputil.IsExpected(err):
				logger.Warn().Err(err).Msg("Proxy host failed, trying next host")
				return attemptRemained, err
			case errutil.IsFlaw(err):
				logger.Debug().Func(log.Flaw(err)).Msg("Proxy host failed")
				return attemptRemained, err
			default:
				panic(errutil.UnknownError(err))
			}
		}
		return false, nil
	})
	if try.IsMaxRetries(err) {
		return lastErr
	}
	return err
}
