package webdav

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Depth values per §4.2; DepthInfinity is used both for "infinity" and as
// the default for methods that default to it (PROPFIND).
const (
	DepthZero     = 0
	DepthOne      = 1
	DepthInfinity = -1
	depthInvalid  = -2
)

// ParseDepth maps "0"/"1"/"infinity" to DepthZero/DepthOne/DepthInfinity.
// def is returned for an absent header; any other value is an error.
func ParseDepth(header string, def int) (int, error) {
	switch header {
	case "":
		return def, nil
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	}
	return depthInvalid, Status(http.StatusBadRequest, errBadDepth)
}

// ParseOverwrite implements the Overwrite header: "T" or "F"
// case-insensitive, default true, anything else a 400.
func ParseOverwrite(header string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(header)) {
	case "":
		return true, nil
	case "T":
		return true, nil
	case "F":
		return false, nil
	}
	return false, Status(http.StatusBadRequest, errBadOverwrite)
}

// ParseTimeout implements the Timeout header (§4.2): a comma-separated
// preference list of "Second-N" or "Infinite"; the first honorable form
// wins, unknown forms are skipped, an absent header yields def.
func ParseTimeout(header string, def time.Duration) (time.Duration, error) {
	if header == "" {
		return def, nil
	}
	for _, pref := range strings.Split(header, ",") {
		pref = strings.TrimSpace(pref)
		if pref == "Infinite" {
			return -1, nil
		}
		if n, ok := strings.CutPrefix(pref, "Second-"); ok {
			secs, err := strconv.ParseInt(n, 10, 64)
			if err != nil || secs < 0 {
				continue
			}
			return time.Duration(secs) * time.Second, nil
		}
		// unrecognized form, skip per §4.2
	}
	return 0, Status(http.StatusBadRequest, errBadTimeout)
}

// ParseDestination resolves the Destination header against the request's
// host and the mount prefix; the URL scheme is not checked. It accepts either a full URL or a bare path (§12,
// carried forward from the original easydav's relative-Destination
// handling). rel is the request-relative path on success.
func ParseDestination(header, requestHost, prefix string) (rel string, err error) {
	if header == "" {
		return "", Status(http.StatusBadRequest, errBadDestination)
	}
	u, parseErr := url.Parse(header)
	if parseErr != nil {
		return "", Status(http.StatusBadRequest, errBadDestination)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, requestHost) {
		return "", Status(http.StatusBadGateway, errBadDestination)
	}
	p := u.Path
	if prefix != "" && prefix != "/" {
		trimmed, ok := strings.CutPrefix(p, prefix)
		if !ok {
			return "", Status(http.StatusBadGateway, errBadDestination)
		}
		p = trimmed
	}
	if p == "" {
		return "", Status(http.StatusBadGateway, errBadDestination)
	}
	return p, nil
}

// ParseLockToken strips the angle brackets RFC 4918 wraps a Coded-URL in.
func ParseLockToken(header string) (string, error) {
	if len(header) < 2 || header[0] != '<' || header[len(header)-1] != '>' {
		return "", Status(http.StatusBadRequest, errBadLockToken)
	}
	return header[1 : len(header)-1], nil
}
