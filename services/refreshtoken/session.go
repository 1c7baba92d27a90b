package refreshtoken

import (
	"fmt"
	"strings"

	"github.com/mileusna/useragent"
)

// SessionInfo describes the client that presented a login or refresh request.
type SessionInfo struct {
	IPAddress string
	UserAgent string
}

// DeviceLabel renders a short human label such as "Firefox 128 on Linux (desktop)".
func (s SessionInfo) DeviceLabel() string {
	if strings.TrimSpace(s.UserAgent) == "" {
		return "unknown device"
	}

	ua := useragent.Parse(s.UserAgent)

	name := ua.Name
	if name == "" {
		name = "unknown client"
	}
	if major := majorVersion(ua.Version); major != "" {
		name += " " + major
	}

	var kind string
	switch {
	case ua.Bot:
		kind = "bot"
	case ua.Tablet:
		kind = "tablet"
	case ua.Mobile:
		kind = "mobile"
	case ua.Desktop:
		kind = "desktop"
	}

	label := name
	if ua.OS != "" {
		label = fmt.Sprintf("%s on %s", name, ua.OS)
	}
	if kind != "" {
		label = fmt.Sprintf("%s (%s)", label, kind)
	}

	if len(label) > 255 {
		label = label[:255]
	}
	return label
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
