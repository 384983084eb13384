package settings

import "fmt"

const (
	CmdName   = "stackprof"
	EnvPrefix = "STACKPROF"
)

var (
	HealthCheckSockPath = fmt.Sprintf("/tmp/%s.sock", CmdName)
)
