package validation

import (
	"errors"
	"net/url"
	"strings"
)

var (
	ErrMissingUrl = errors.New("missing url")
	ErrInvalidUrl = errors.New("invalid url")
)

// Schemes a browser session may be pointed at. `data:` pages are handy for quick checks & tests.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"data":  true,
}

// ValidateUrl validates a URL provided by the user, and returns a formatted URL as a string.
// A bare hostname such as `example.com/page` is treated as https.
func ValidateUrl(userUrl string) (validatedUrl string, hostname string, err error) {
	userUrl = strings.TrimSpace(userUrl)
	if userUrl == "" {
		return "", "", ErrMissingUrl
	}

	if !strings.Contains(userUrl, "://") && !strings.HasPrefix(userUrl, "data:") {
		userUrl = "https://" + userUrl
	}

	u, err := url.Parse(userUrl)
	if err != nil {
		return "", "", ErrInvalidUrl
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return "", "", errors.New("unsupported scheme " + u.Scheme)
	}
	if u.Scheme != "data" && u.Hostname() == "" {
		return "", "", ErrInvalidUrl
	}

	return u.String(), u.Hostname(), nil
}
