// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import (
	"context"
	"time"

	"github.com/Thermoquad/sensoplex/pkg/pdi"
)

// PendingCommand is the single in-flight request of a session. It resolves
// exactly once: with the matching response, a timeout, a write failure or
// the loss of the link.
type PendingCommand struct {
	command  pdi.Command
	issuedAt time.Time
	timer    *time.Timer
	done     chan struct{}

	// Set before done is closed
	record pdi.Record
	err    error
}

func newPendingCommand(cmd pdi.Command) *PendingCommand {
	return &PendingCommand{
		command:  cmd,
		issuedAt: time.Now(),
		done:     make(chan struct{}),
	}
}

// Command returns the issued command
func (p *PendingCommand) Command() pdi.Command {
	return p.command
}

// IssuedAt returns when the command was written
func (p *PendingCommand) IssuedAt() time.Time {
	return p.issuedAt
}

// Done is closed once the command has resolved
func (p *PendingCommand) Done() <-chan struct{} {
	return p.done
}

// Result returns the response record or the failure. Only valid after Done
// is closed.
func (p *PendingCommand) Result() (pdi.Record, error) {
	return p.record, p.err
}

// Wait blocks until the command resolves or ctx is done. A cancelled wait
// does not release the session's command slot; use Session.Do for that.
func (p *PendingCommand) Wait(ctx context.Context) (pdi.Record, error) {
	select {
	case <-p.done:
		return p.record, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// matches reports whether r answers this command
func (p *PendingCommand) matches(r pdi.Record) bool {
	return r.Command() == p.command.Response
}

// complete stores the outcome and wakes waiters. The caller must have won
// the session slot; complete runs once per command.
func (p *PendingCommand) complete(r pdi.Record, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.record = r
	p.err = err
	close(p.done)
}
