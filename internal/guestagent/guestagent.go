// Package guestagent implements the single operation this service needs
// from the QEMU guest agent: execute a command inside a guest and collect
// its exit code and captured stdout/stderr, polling over libvirt's
// agent-command passthrough the way the original implementation's
// qemu.agent_exec/agent_command poll loop does.
package guestagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// pollInterval matches spec.md §4.9: "Poll guest-exec-status every 100 ms".
const pollInterval = 100 * time.Millisecond

// Caller is the subset of the libvirt connection guestagent needs: issue
// one qemu-agent-command and get back its raw JSON response. Implemented
// by internal/lvclient.Conn; kept as a narrow interface here so this
// package has no dependency on the libvirt RPC client.
type Caller interface {
	QemuAgentCommand(ctx context.Context, domain string, cmd string, timeoutSeconds int) (string, error)
}

// Result is the outcome of an exec-and-wait call.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

type execRequest struct {
	Execute   string          `json:"execute"`
	Arguments execRequestArgs `json:"arguments"`
}

type execRequestArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg,omitempty"`
	Env           []string `json:"env,omitempty"`
	CaptureOutput bool     `json:"capture-output"`
}

type execResponse struct {
	Return struct {
		PID int `json:"pid"`
	} `json:"return"`
}

type statusRequest struct {
	Execute   string `json:"execute"`
	Arguments struct {
		PID int `json:"pid"`
	} `json:"arguments"`
}

type statusResponse struct {
	Return struct {
		Exited       bool   `json:"exited"`
		ExitCode     int    `json:"exitcode"`
		OutData      string `json:"out-data"`
		ErrData      string `json:"err-data"`
		OutTruncated bool   `json:"out-truncated"`
		ErrTruncated bool   `json:"err-truncated"`
	} `json:"return"`
}

// Exec runs path with args and env inside domain, polling until it exits
// or the operation's deadline (timeoutSeconds, or ctx's own deadline if
// sooner; the "configurable deadline, default 5s" from spec.md §4.9)
// elapses.
func Exec(ctx context.Context, caller Caller, domain, path string, args, env []string, timeoutSeconds int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	reqBody, err := json.Marshal(execRequest{
		Execute: "guest-exec",
		Arguments: execRequestArgs{
			Path:          path,
			Arg:           args,
			Env:           env,
			CaptureOutput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("guestagent: encode guest-exec request: %w", err)
	}

	raw, err := caller.QemuAgentCommand(ctx, domain, string(reqBody), timeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("guestagent: guest-exec on %s: %w", domain, err)
	}

	var execResp execResponse
	if err := json.Unmarshal([]byte(raw), &execResp); err != nil {
		return nil, fmt.Errorf("guestagent: decode guest-exec response: %w", err)
	}
	pid := execResp.Return.PID

	statusReqBody, err := json.Marshal(buildStatusRequest(pid))
	if err != nil {
		return nil, fmt.Errorf("guestagent: encode guest-exec-status request: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		statusRaw, err := caller.QemuAgentCommand(ctx, domain, string(statusReqBody), timeoutSeconds)
		if err != nil {
			return nil, fmt.Errorf("guestagent: guest-exec-status on %s pid %d: %w", domain, pid, err)
		}

		var statusResp statusResponse
		if err := json.Unmarshal([]byte(statusRaw), &statusResp); err != nil {
			return nil, fmt.Errorf("guestagent: decode guest-exec-status response: %w", err)
		}

		if statusResp.Return.Exited {
			stdout, err := base64.StdEncoding.DecodeString(statusResp.Return.OutData)
			if err != nil {
				return nil, fmt.Errorf("guestagent: decode stdout: %w", err)
			}
			stderr, err := base64.StdEncoding.DecodeString(statusResp.Return.ErrData)
			if err != nil {
				return nil, fmt.Errorf("guestagent: decode stderr: %w", err)
			}
			return &Result{
				ExitCode: statusResp.Return.ExitCode,
				Stdout:   stdout,
				Stderr:   stderr,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("guestagent: exec on %s timed out waiting for pid %d: %w", domain, pid, ctx.Err())
		case <-ticker.C:
		}
	}
}

func buildStatusRequest(pid int) statusRequest {
	var req statusRequest
	req.Execute = "guest-exec-status"
	req.Arguments.PID = pid
	return req
}

// ExecShell runs script as a bash -c invocation, the shape SSM SendCommand
// needs (spec.md §4.8: "concatenates its inputs.runCommand into a bash
// script").
func ExecShell(ctx context.Context, caller Caller, domain, script string, timeoutSeconds int) (*Result, error) {
	return Exec(ctx, caller, domain, "/bin/bash", []string{"-c", script}, nil, timeoutSeconds)
}
