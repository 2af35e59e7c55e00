package livecapture

import (
	"fmt"

	"github.com/Niskarsh/livecapture/capture"
)

// Notice is a problem that didn't stop recording, such as an optional
// source that couldn't be opened or a preview that couldn't be shown.
type Notice struct {
	Kind    capture.Kind
	Message string
	Err     error
}

func (n Notice) String() string {
	if n.Err == nil {
		return fmt.Sprintf("%s: %s", n.Kind, n.Message)
	}
	return fmt.Sprintf("%s: %s: %s", n.Kind, n.Message, n.Err)
}
