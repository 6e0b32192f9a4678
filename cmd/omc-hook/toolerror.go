package main

import (
	"time"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

// toolErrorRepeatWindow bounds how long a still-unread error for the same
// tool keeps bumping retry_count rather than starting a fresh count; it is
// deliberately longer than persistmode's 60s staleness so a burst of
// several failing PostToolUse events in a row accumulates one count instead
// of each looking "fresh" in isolation.
const toolErrorRepeatWindow = 120 * time.Second

// recordToolErrorIfAny inspects a tool_response for an error shape and, if
// found, writes/bumps .omc/state/last-tool-error.json for the Persistent-
// Mode Driver to consume on the next Stop (spec §4.5 point 2, §4.7 step 3).
func recordToolErrorIfAny(root, toolName string, response map[string]any) error {
	message, isError := toolErrorMessage(response)
	if !isError {
		return nil
	}

	path, err := pathguard.ResolveOmc("state/last-tool-error.json", root)
	if err != nil {
		return nil
	}

	var prior domain.LastToolError
	found, err := atomicstore.SafeReadJSON(path, &prior)
	if err != nil {
		found = false
	}

	retryCount := 1
	if found && prior.ToolName == toolName && time.Since(prior.At) <= toolErrorRepeatWindow {
		retryCount = prior.RetryCount + 1
	}

	return atomicstore.WriteJSON(path, domain.LastToolError{
		ToolName:   toolName,
		Message:    message,
		RetryCount: retryCount,
		At:         time.Now(),
	})
}

// toolErrorMessage recognizes the common tool_response error shapes: an
// "error" string field, or "is_error": true alongside a "content"/"message"
// string field.
func toolErrorMessage(response map[string]any) (message string, isError bool) {
	if response == nil {
		return "", false
	}
	if errVal, ok := response["error"].(string); ok && errVal != "" {
		return errVal, true
	}
	if flag, ok := response["is_error"].(bool); ok && flag {
		for _, key := range []string{"content", "message", "output"} {
			if s, ok := response[key].(string); ok && s != "" {
				return s, true
			}
		}
		return "tool call failed", true
	}
	return "", false
}

// toolResponseText flattens every top-level string value in response for
// the remember-tag scraper to scan (spec §4.5 point 2).
func toolResponseText(response map[string]any) string {
	var out string
	for _, key := range []string{"content", "output", "stdout", "stderr", "message"} {
		if s, ok := response[key].(string); ok {
			out += s + "\n"
		}
	}
	return out
}
