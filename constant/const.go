package constant

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
)

const AppName = "melo"

var (
	//go:embed version
	version string
	// Overridden at build time with -ldflags "-X github.com/xeptore/melo/constant.compileTime=...".
	compileTime string = "2026-10-01T00:00:00Z"
	Version     string
	CompileTime time.Time
)

func init() {
	Version = strings.TrimSpace(version)
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse CompileTime constant %q. Make sure it is set at build time in RFC3339 format", compileTime))
	}
	CompileTime = t
}

func UserAgent() string {
	return AppName + "/" + Version
}
