package errutil

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/yaml.v3"
)

const redacted = "REDACTED"

// Query parameters and headers that carry provider credentials: subsonic
// tokens and salts, spotify client secrets and bearer tokens.
var (
	secretParams  = []string{"t", "s", "p", "password", "token", "client_secret", "api_key"}
	secretHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}
)

// RedactURL masks userinfo and credential query parameters of raw. Values
// that do not parse are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if nil != err {
		return raw
	}
	q := u.Query()
	for _, k := range secretParams {
		if q.Has(k) {
			q.Set(k, redacted)
		}
	}
	u.RawQuery = q.Encode()
	return u.Redacted()
}

// HTTPResponseFlawPayload describes res for a flaw record, with credentials
// masked.
func HTTPResponseFlawPayload(res *http.Response) flaw.P {
	headers := lo.MapEntries(res.Header, func(k string, v []string) (string, any) {
		if lo.ContainsBy(secretHeaders, func(h string) bool { return strings.EqualFold(h, k) }) {
			return k, []string{redacted}
		}
		return k, v
	})

	out := flaw.P{
		"status":         res.Status,
		"status_code":    res.StatusCode,
		"content_length": res.ContentLength,
		"proto":          res.Proto,
		"headers":        flaw.P(headers),
	}
	if nil != res.Request && nil != res.Request.URL {
		out["request_method"] = res.Request.Method
		out["request_url"] = RedactURL(res.Request.URL.String())
	}
	return out
}

type yamlStackTrace struct {
	File     string `yaml:"file"`
	Line     int    `yaml:"line"`
	Function string `yaml:"function"`
}

type yamlRecord struct {
	Function string `yaml:"function"`
	Payload  flaw.P `yaml:"payload"`
}

type yamlJoinedError struct {
	Message          string          `yaml:"message"`
	CallerStackTrace *yamlStackTrace `yaml:"caller_stack_trace,omitempty"`
}

type yamlFlaw struct {
	Inner        string            `yaml:"inner"`
	InnerType    string            `yaml:"inner_type"`
	Records      []yamlRecord      `yaml:"records"`
	JoinedErrors []yamlJoinedError `yaml:"joined_errors,omitempty"`
	StackTrace   []yamlStackTrace  `yaml:"stack_trace"`
}

// FlawToYAML renders f for the --debug error dump of the CLI.
func FlawToYAML(f *flaw.Flaw) ([]byte, error) {
	doc := yamlFlaw{
		Inner:     f.Inner,
		InnerType: f.InnerType,
		Records: lo.Map(f.Records, func(v flaw.Record, _ int) yamlRecord {
			return yamlRecord{Function: v.Function, Payload: v.Payload}
		}),
		JoinedErrors: lo.Map(f.JoinedErrors, func(v flaw.JoinedError, _ int) yamlJoinedError {
			je := yamlJoinedError{Message: v.Message, CallerStackTrace: nil}
			if nil != v.CallerStackTrace {
				je.CallerStackTrace = &yamlStackTrace{
					File:     v.CallerStackTrace.File,
					Line:     v.CallerStackTrace.Line,
					Function: v.CallerStackTrace.Function,
				}
			}
			return je
		}),
		StackTrace: lo.Map(f.StackTrace, func(v flaw.StackTrace, _ int) yamlStackTrace {
			return yamlStackTrace{File: v.File, Line: v.Line, Function: v.Function}
		}),
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); nil != err {
		flawP := flaw.P{"err_debug_tree": Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to encode flaw to yaml: %v", err)).Append(flawP)
	}
	return buf.Bytes(), nil
}

func IsFlaw(err error) bool {
	flawErr := new(flaw.Flaw)
	return errors.As(err, &flawErr)
}
