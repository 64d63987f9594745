//go:build tinygo

package sonar

import (
	"machine"
)

func init() {
	globalLogger = &serialLogger{prefix: "sonar: "}
}

// serialLogger writes to machine.Serial directly to avoid pulling in fmt.
// Edges are handled off the interrupt, so logging never runs inside an ISR.
type serialLogger struct {
	prefix string
}

func (l *serialLogger) log(level, msg string) {
	machine.Serial.Write([]byte(level))
	machine.Serial.Write([]byte(l.prefix))
	machine.Serial.Write([]byte(msg))
	machine.Serial.Write([]byte("\r\n"))
}

func (l *serialLogger) Debug(msg string) { l.log("[DEBUG] ", msg) }
func (l *serialLogger) Info(msg string)  { l.log("[INFO]  ", msg) }
func (l *serialLogger) Warn(msg string)  { l.log("[WARN]  ", msg) }
func (l *serialLogger) Error(msg string) { l.log("[ERROR] ", msg) }
