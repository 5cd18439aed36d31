package tidalproxy

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/provider"
)

type btsManifest struct {
	MimeType       string   `json:"mimeType"`
	Codecs         string   `json:"codecs"`
	EncryptionType string   `json:"encryptionType"`
	URLs           []string `json:"urls"`
}

// parseStream extracts a direct stream URL from a /track/ response. Newer
// proxies answer with a base64 vnd.tidal.bts manifest under data, older ones
// with an OriginalTrackUrl list.
func parseStream(body []byte) (string, provider.Candidate, error) {
	if !gjson.ValidBytes(body) {
		return "", provider.Candidate{}, invalidResponse("track response is not valid json", body)
	}
	res := gjson.ParseBytes(body)

	if manifest := res.Get("data.manifest").String(); manifest != "" {
		track := provider.Candidate{AudioQuality: res.Get("data.audioQuality").String()}
		switch mimeType := res.Get("data.manifestMimeType").String(); mimeType {
		case "application/vnd.tidal.bts", "vnd.tidal.bt", "":
		default:
			return "", track, flaw.From(fmt.Errorf("unsupported manifest mime type: %s", mimeType))
		}
		streamURL, err := decodeManifest(manifest)
		if nil != err {
			return "", track, err
		}
		return streamURL, track, nil
	}

	candidates := []gjson.Result{res}
	if res.IsArray() {
		candidates = res.Array()
	}
	for _, v := range candidates {
		if u := v.Get("OriginalTrackUrl").String(); u != "" {
			return u, provider.Candidate{AudioQuality: v.Get("audioQuality").String()}, nil
		}
	}
	return "", provider.Candidate{}, invalidResponse("track response has neither a manifest nor a track url", body)
}

func decodeManifest(encoded string) (string, error) {
	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(encoded))
	var manifest btsManifest
	if err := json.NewDecoder(dec).Decode(&manifest); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return "", flaw.From(fmt.Errorf("failed to decode vnd.tidal.bts manifest: %v", err)).Append(flawP)
	}
	flawP := flaw.P{
		"manifest": flaw.P{
			"mime_type":       manifest.MimeType,
			"codecs":          manifest.Codecs,
			"encryption_type": manifest.EncryptionType,
			"urls":            manifest.URLs,
		},
	}

	switch manifest.EncryptionType {
	case "NONE", "":
	default:
		return "", flaw.From(fmt.Errorf("encrypted manifest is not supported: %s", manifest.EncryptionType)).Append(flawP)
	}

	if len(manifest.URLs) == 0 {
		return "", flaw.From(errors.New("empty vnd.tidal.bts manifest urls")).Append(flawP)
	}
	return manifest.URLs[0], nil
}
