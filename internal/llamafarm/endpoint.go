package llamafarm

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultServerURL is used when a blank address is normalized.
const DefaultServerURL = "http://localhost:8000"

// NormalizeBaseURL trims whitespace and trailing slashes. A blank value
// becomes DefaultServerURL.
func NormalizeBaseURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultServerURL
	}
	for strings.HasSuffix(s, "/") {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}

// ValidateBaseURL normalizes raw and checks it parses as an absolute
// http or https URL.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(NormalizeBaseURL(raw))
	if err != nil {
		return fmt.Errorf("enter a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("enter a valid URL: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("enter a valid URL: missing host")
	}
	return nil
}

// BuildChatEndpoint joins the server address and project identity into
// the project's OpenAI-compatible base URL. It is a pure string join:
//
//	BuildChatEndpoint("http://localhost:8000", "moltbot", "agent")
//	// "http://localhost:8000/v1/projects/moltbot/agent"
func BuildChatEndpoint(serverURL, namespace, project string) string {
	return serverURL + "/v1/projects/" + namespace + "/" + project
}
