// Command voicebridged runs the SIP/RTP-to-AI voice bridge: it accepts
// telephone calls over SIP, relays audio to a conversational AI backend
// over WebSocket, and carries DTMF, IVR, hold music, and SMS alongside
// the voice path.
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCommand(version, commit).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
