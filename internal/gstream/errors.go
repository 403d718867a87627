// Package gstream holds the GStreamer plumbing shared by the stored video
// reader and the live camera: error categories, caps helpers and sample
// conversion.
package gstream

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer errors for telemetry
type ErrorCategory int

const (
	ErrCategoryNetwork ErrorCategory = iota
	ErrCategoryCodec
	ErrCategoryAuth
	ErrCategoryNotFound
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether reconnecting may clear the error. Rejected
// credentials and missing resources stay that way.
func (e ErrorCategory) Retryable() bool {
	return e != ErrCategoryAuth && e != ErrCategoryNotFound
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden",
		"authentication", "credentials", "password", "username",
	}
	notFoundKeywords = []string{
		"no such file", "could not open file", "resource not found", "does not exist",
	}
	codecKeywords = []string{
		"codec", "decode", "encode", "format", "negotiation", "caps",
		"h264", "h265", "mjpeg", "jpeg", "not negotiated", "no decoder",
		"missing plugin", "demux", "type not found", "could not determine type",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve",
		"socket", "tcp", "udp", "rtsp", "could not connect", "failed to connect",
	}
)

// Classify categorizes a pipeline error. go-gst's GError does not expose the
// domain, so classification matches message keywords.
func Classify(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage categorizes an error from its message and debug text.
// Auth is checked first, then missing resources, codec and network.
func ClassifyMessage(msg, debug string) ErrorCategory {
	combined := strings.ToLower(msg + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, notFoundKeywords):
		return ErrCategoryNotFound
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
