package main

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// runHeadless sends a single prompt and prints the finished reply. A reply
// that failed is still printed, the error is returned afterwards.
func runHeadless(ctx context.Context, session *chatSession, prompt string, out io.Writer) error {
	sendErr := session.Send(ctx, prompt)

	reply, err := session.LastReply()
	if err != nil {
		if sendErr != nil {
			return sendErr
		}
		return err
	}

	if _, err := fmt.Fprintln(out, strings.TrimRight(reply.Content, "\n")); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return sendErr
}
