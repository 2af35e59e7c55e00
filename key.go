package livecapture

import (
	"strconv"
	"strings"
	"time"

	"github.com/Niskarsh/livecapture/capture"
	"github.com/google/uuid"
)

// keyLayout is the folder and file prefix a kind of recording is stored under.
type keyLayout struct {
	folder, prefix, stream string
}

var layouts = map[capture.Kind]keyLayout{
	capture.Screen: {folder: "screen_recording", prefix: "SCREEN_RECORDING", stream: "screen-stream"},
	capture.Webcam: {folder: "camera_recording", prefix: "CAMERA_RECORDING", stream: "webcam-stream"},
}

// NewObjectKey names the object a session records into. The key holds a
// random identifier and the start time in milliseconds, for example
//
//	screen_recording/SCREEN_RECORDING_screen-stream-<uuid>-1700000000000.webm
func NewObjectKey(kind capture.Kind, mimeType string, now time.Time) string {
	layout, ok := layouts[kind]
	if !ok {
		name := strings.ToLower(string(kind))
		layout = keyLayout{folder: name + "_recording", prefix: strings.ToUpper(name) + "_RECORDING", stream: name + "-stream"}
	}
	var b strings.Builder
	b.WriteString(layout.folder)
	b.WriteString("/")
	b.WriteString(layout.prefix)
	b.WriteString("_")
	b.WriteString(layout.stream)
	b.WriteString("-")
	b.WriteString(uuid.NewString())
	b.WriteString("-")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteString(".")
	b.WriteString(capture.Extension(mimeType))
	return b.String()
}
