package sandbox

import (
	"strings"

	"github.com/docker/docker/errdefs"
)

// ClassifyError maps a backend failure to the message shown in the
// response stream. The raw error still travels in the event's details
// field for debugging.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errdefs.IsUnauthorized(err):
		return "Registry authentication failed. Please check your credentials."
	case errdefs.IsNotFound(err):
		return "Agent image not found. Please check the image URL."
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "Image build"):
		return "Failed to build agent image. Please check agent configuration."
	case strings.Contains(msg, "Token missing"), strings.Contains(lower, "authenticate"):
		return "Registry authentication failed. Please check your credentials."
	case strings.Contains(lower, "not found"):
		return "Agent image not found. Please check the image URL."
	}
	return "Agent execution failed: " + msg
}
