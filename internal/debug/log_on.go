//go:build debug

package debug

import (
	"log"
	"os"
)

var logger = log.New(os.Stderr, "[D] ", log.LstdFlags)

func Log(msg interface{}) {
	logger.Output(1, getStringValue(msg))
}
