// Package gstdriver plays audio through GStreamer. Without the gstreamer
// build tag every operation fails.
package gstdriver

// DefaultPipeline plays any URI through the default audio sink.
const DefaultPipeline = "playbin uri={url} volume={volume}"
