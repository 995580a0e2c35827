package guestagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls  int
	polls  int
	result execResponse
	status statusResponse
}

func (f *fakeCaller) QemuAgentCommand(ctx context.Context, domain, cmd string, timeoutSeconds int) (string, error) {
	f.calls++
	var probe struct {
		Execute string `json:"execute"`
	}
	if err := json.Unmarshal([]byte(cmd), &probe); err != nil {
		return "", err
	}
	if probe.Execute == "guest-exec" {
		body, _ := json.Marshal(f.result)
		return string(body), nil
	}
	f.polls++
	if f.polls < 2 {
		return `{"return":{"exited":false}}`, nil
	}
	body, _ := json.Marshal(f.status)
	return string(body), nil
}

func TestExecSuccess(t *testing.T) {
	caller := &fakeCaller{}
	caller.result.Return.PID = 42
	caller.status.Return.Exited = true
	caller.status.Return.ExitCode = 0
	caller.status.Return.OutData = base64.StdEncoding.EncodeToString([]byte("hi\n"))

	res, err := Exec(context.Background(), caller, "dom1", "/bin/echo", []string{"hi"}, nil, 5)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hi\n", string(res.Stdout))
	require.GreaterOrEqual(t, caller.polls, 2, "should poll until exited")
}

func TestExecNonZeroExit(t *testing.T) {
	caller := &fakeCaller{}
	caller.result.Return.PID = 7
	caller.status.Return.Exited = true
	caller.status.Return.ExitCode = 1
	caller.status.Return.ErrData = base64.StdEncoding.EncodeToString([]byte("boom"))

	res, err := ExecShell(context.Background(), caller, "dom1", "false", 5)
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, "boom", string(res.Stderr))
}

type timeoutCaller struct{}

func (timeoutCaller) QemuAgentCommand(ctx context.Context, domain, cmd string, timeoutSeconds int) (string, error) {
	var probe struct {
		Execute string `json:"execute"`
	}
	json.Unmarshal([]byte(cmd), &probe)
	if probe.Execute == "guest-exec" {
		return `{"return":{"pid":1}}`, nil
	}
	return `{"return":{"exited":false}}`, nil
}

func TestExecRespectsContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := Exec(ctx, timeoutCaller{}, "dom1", "/bin/sleep", []string{"100"}, nil, 5)
	require.Error(t, err)
	require.Contains(t, fmt.Sprint(err), "timed out")
}
