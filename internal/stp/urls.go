package stp

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Scheme is the URI scheme of STP endpoints. Peers map it to http or https.
const Scheme = "stp"

// endpoint paths, each followed by a one-time uuid
const (
	RequestPath     = "/api/stp/request"
	ResponsePath    = "/api/stp/response"
	RevisionPath    = "/api/stp/revision"
	RemediationPath = "/api/stp/remediation"
)

// NewURL builds stp://host/<base>/<id>
func NewURL(host, base, id string) string {
	u := url.URL{Scheme: Scheme, Host: host, Path: path.Join(base, id)}
	return u.String()
}

// LastSegment returns the trailing id of an STP URL. The id must be a UUID.
func LastSegment(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", WrapValidationError(err, "invalid STP URL")
	}
	if u.Scheme != Scheme {
		return "", NewValidationError(fmt.Sprintf("URL scheme must be %s: %q", Scheme, rawURL))
	}
	if u.Host == "" {
		return "", NewValidationError(fmt.Sprintf("URL has no host: %q", rawURL))
	}

	id := path.Base(strings.TrimSuffix(u.Path, "/"))
	if err := uuid.Validate(id); err != nil {
		return "", WrapValidationError(err, fmt.Sprintf("URL does not end with a UUID: %q", rawURL))
	}
	return id, nil
}

// ToHTTP maps an stp:// URL to the transport scheme (http or https)
func ToHTTP(rawURL, transportScheme string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", WrapValidationError(err, "invalid STP URL")
	}
	if u.Scheme != Scheme {
		return "", NewValidationError(fmt.Sprintf("URL scheme must be %s: %q", Scheme, rawURL))
	}
	u.Scheme = transportScheme
	return u.String(), nil
}
