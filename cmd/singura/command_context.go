package main

import (
	"sync"

	"github.com/spf13/cobra"
)

// annotationStructuredLog marks commands whose diagnostics go to the
// structured application log. Commands without it print plain text for a
// human or JSON for a script.
const annotationStructuredLog = "structured-log"

type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	commandCtxMu sync.Mutex
	commandCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	commandCtxMu.Lock()
	defer commandCtxMu.Unlock()
	commandCtx = ctx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	commandCtxMu.Lock()
	defer commandCtxMu.Unlock()
	return commandCtx
}

func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationStructuredLog] == "true" {
			return true
		}
	}
	return false
}
