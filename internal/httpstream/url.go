package httpstream

import "strings"

// StreamURL is a parsed "rtmp://host[:port]/app[/app2]/stream?query"
// (or the equivalent HTTP-FLV path form), including the legacy
// "...vhost..." host-override segment some encoders still embed.
type StreamURL struct {
	Host  string
	Port  string
	VHost string
	App   string
	Key   string
	Query map[string]string
}

// ParseStreamURL splits path into vhost/app/key/query, handling the
// FMLE publishing variant where the query string is embedded before
// the final stream-name segment (".../app/key?query=str/streamname")
// rather than after it, and the legacy "?vhost=..." / "...vhost..."
// host-override convention.
func ParseStreamURL(path string) *StreamURL {
	u := &StreamURL{Query: map[string]string{}}

	path = strings.TrimPrefix(path, "/")

	var rawQuery string
	if idx := strings.IndexByte(path, '?'); idx >= 0 && !strings.Contains(path[idx+1:], "/") {
		rawQuery = path[idx+1:]
		path = path[:idx]
	}

	segments := strings.Split(path, "/")
	segments = removeEmpty(segments)

	if len(segments) == 0 {
		return u
	}

	// FMLE variant: query string embedded mid-path, e.g.
	// app/key?query/realstreamname — a '?' followed by a later '/' is
	// left in place above, so it is found here in its segment.
	for i, seg := range segments {
		if idx := strings.IndexByte(seg, '?'); idx >= 0 {
			if rawQuery == "" {
				rawQuery = seg[idx+1:]
			}
			segments[i] = seg[:idx]
		}
	}

	u.App = segments[0]
	if len(segments) >= 2 {
		u.Key = strings.Join(segments[1:], "/")
	}

	if rawQuery != "" {
		u.Query = parseQueryString(rawQuery)
	}

	if vhost, ok := u.Query["vhost"]; ok {
		u.VHost = vhost
	} else if strings.Contains(u.App, "...") {
		// legacy "app...vhost...example.com" host override syntax
		parts := strings.SplitN(u.App, "...", 3)
		if len(parts) == 3 {
			u.App = parts[0]
			u.VHost = parts[2]
		}
	}

	return u
}

func removeEmpty(segs []string) []string {
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseQueryString(q string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}

// ClientIP extracts the originating client address from a request,
// preferring X-Forwarded-For's first hop, then X-Real-IP, falling
// back to the transport-level remote address the caller supplies.
func ClientIP(h *Header, remoteAddr string) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := h.Get("X-Real-IP"); real != "" {
		return real
	}
	return remoteAddr
}
