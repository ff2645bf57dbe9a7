// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/distro"
	"github.com/roletest/roletest/internal/issue"
	"github.com/roletest/roletest/internal/testutil"
)

const (
	idempotentRecap = `
PLAY RECAP *********************************************************************
localhost                  : ok=3    changed=0    unreachable=0    failed=0    skipped=0    rescued=0    ignored=0
`
	changedRecap = `
PLAY RECAP *********************************************************************
localhost                  : ok=3    changed=1    unreachable=0    failed=0    skipped=0    rescued=0    ignored=0
`
)

func testOptions(roleDir string) Options {
	return Options{
		Distro:          "centos7",
		Playbook:        "test.yml",
		RoleDir:         roleDir,
		MountPath:       "/etc/ansible/roles/role_under_test",
		ContainerID:     "1600000000",
		ImageNamespace:  "geerlingguy",
		ImageTag:        "latest",
		Cleanup:         true,
		TestIdempotence: true,
		PullRetries:     3,
	}
}

func newTestRunner(t *testing.T, engine *fakeEngine, opts Options, extra ...Option) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	clock := testutil.NewFakeClock(time.Time{}).WithStep(time.Second)
	base := []Option{
		WithOutput(&out, io.Discard),
		WithLogger(log.New(io.Discard)),
		WithClock(clock.Now),
		WithPullBackoff(0),
	}
	return New(engine, nil, opts, append(base, extra...)...), &out
}

func TestRun_FullPass(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{replies: []execReply{{match: "test.yml", stdout: idempotentRecap}}}
	runner, out := newTestRunner(t, engine, testOptions(roleDir))

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"pull", "start", "exec", "exec", "exec", "rm"}, engine.callNames())
	assert.Equal(t, "pull geerlingguy/docker-centos7-ansible:latest", engine.calls[0])

	assert.Equal(t, container.ImageTag("geerlingguy/docker-centos7-ansible:latest"), engine.startOpts.Image)
	assert.Equal(t, []string{"/usr/lib/systemd/systemd"}, engine.startOpts.Command)
	assert.True(t, engine.startOpts.Privileged)
	require.Len(t, engine.startOpts.Volumes, 2)
	assert.Equal(t, "/sys/fs/cgroup:/sys/fs/cgroup:ro", engine.startOpts.Volumes[0].String())
	assert.Equal(t, roleDir+":/etc/ansible/roles/role_under_test:rw", engine.startOpts.Volumes[1].String())

	assert.Equal(t, []string{
		"env", "TERM=xterm", "ansible-playbook",
		"/etc/ansible/roles/role_under_test/tests/test.yml", "--syntax-check",
	}, engine.execs[0])
	assert.Equal(t, []string{
		"env", "TERM=xterm", "ANSIBLE_FORCE_COLOR=1", "ansible-playbook",
		"/etc/ansible/roles/role_under_test/tests/test.yml",
	}, engine.execs[1])
	assert.NotContains(t, engine.execs[2], "ANSIBLE_FORCE_COLOR=1")

	assert.Contains(t, out.String(), "PLAY RECAP", "idempotence output is teed to stdout")
	assert.Contains(t, out.String(), "Pulling from", "pull output defaults to stdout")

	assert.True(t, report.Passed)
	assert.Equal(t, 0, report.ExitCode)
	assert.True(t, report.CleanedUp)
	assert.Equal(t, "deadbeef", report.ContainerID)
	_, uuidErr := uuid.Parse(report.RunID)
	assert.NoError(t, uuidErr, "run ID is a UUID")
	require.NotNil(t, report.Idempotence)
	assert.True(t, report.Idempotence.Passed)
	assert.Positive(t, report.Duration)

	prep, ok := report.Step(StepPrepare)
	require.True(t, ok)
	assert.Equal(t, StatusSkipped, prep.Status)
	req, _ := report.Step(StepRequirements)
	assert.Equal(t, StatusSkipped, req.Status)
	syn, _ := report.Step(StepSyntaxCheck)
	assert.Equal(t, StatusPassed, syn.Status)
	assert.True(t, strings.HasSuffix(syn.Command, "ansible-playbook /etc/ansible/roles/role_under_test/tests/test.yml --syntax-check"), syn.Command)
}

func TestRun_PrepareAndRequirements(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, map[string]string{
		"tests/prepare.yml":      "---\n- hosts: all\n  tasks: []\n",
		"tests/requirements.yml": "---\nroles:\n  - geerlingguy.java\ncollections:\n  - community.general\n",
	})
	engine := &fakeEngine{replies: []execReply{{match: "test.yml", stdout: idempotentRecap}}}
	runner, _ := newTestRunner(t, engine, testOptions(roleDir))

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, engine.execs, 6)
	assert.Contains(t, engine.execs[0], "/etc/ansible/roles/role_under_test/tests/prepare.yml")
	assert.Equal(t, []string{"env", "TERM=xterm", "ansible-galaxy", "install", "-r",
		"/etc/ansible/roles/role_under_test/tests/requirements.yml"}, engine.execs[1])
	assert.Equal(t, []string{"env", "TERM=xterm", "ansible-galaxy", "collection", "install", "-r",
		"/etc/ansible/roles/role_under_test/tests/requirements.yml"}, engine.execs[2])
	assert.Equal(t, 1, report.Roles)
	assert.Equal(t, 1, report.Collections)
}

func TestRun_MalformedRequirementsFailBeforeContainer(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, map[string]string{"tests/requirements.yml": "roles: [\n"})
	engine := &fakeEngine{}
	runner, _ := newTestRunner(t, engine, testOptions(roleDir))

	_, err := runner.Run(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepRequirements, stepErr.Step)
	assert.Empty(t, engine.calls, "no container call before requirements parse")
}

func TestRun_SyntaxCheckAborts(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{replies: []execReply{{match: "--syntax-check", exitCode: 4}}}
	runner, _ := newTestRunner(t, engine, testOptions(roleDir))

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepFailed)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepSyntaxCheck, stepErr.Step)
	assert.Equal(t, 4, stepErr.ExitCode)
	assert.Equal(t, 4, ExitCodeOf(err))
	assert.Equal(t, issue.SyntaxCheckFailedId, issue.IssueOf(err).Id())

	assert.Len(t, engine.execs, 1, "playbook must not run after a failed syntax check")
	assert.Empty(t, engine.removed, "container is kept on failure by default")
	assert.False(t, report.Passed)
	assert.Equal(t, 4, report.ExitCode)
	assert.NotEmpty(t, report.Error)
}

func TestRun_PlaybookFailureExitCode(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{replies: []execReply{
		{match: "--syntax-check"},
		{match: "ANSIBLE_FORCE_COLOR=1", exitCode: 2},
	}}
	runner, _ := newTestRunner(t, engine, testOptions(roleDir))

	_, err := runner.Run(context.Background())
	assert.Equal(t, 2, ExitCodeOf(err))
	assert.Equal(t, issue.PlaybookFailedId, issue.IssueOf(err).Id())
}

func TestRun_IdempotenceFailure(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{replies: []execReply{
		{match: "--syntax-check"},
		{match: "ANSIBLE_FORCE_COLOR=1", stdout: changedRecap},
		{match: "test.yml", stdout: changedRecap},
	}}
	opts := testOptions(roleDir)
	opts.CleanupOnFail = true
	runner, _ := newTestRunner(t, engine, opts)

	report, err := runner.Run(context.Background())
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepIdempotence, stepErr.Step)
	assert.Equal(t, 1, ExitCodeOf(err))
	assert.Equal(t, issue.IdempotenceFailedId, issue.IssueOf(err).Id())

	require.NotNil(t, report.Idempotence)
	assert.False(t, report.Idempotence.Passed)
	require.Len(t, report.Idempotence.Recap, 1)
	assert.Equal(t, 1, report.Idempotence.Recap[0].Changed)

	assert.Equal(t, []container.ContainerID{"1600000000"}, engine.removed, "cleanup_on_failure removes the container")
	assert.True(t, report.CleanedUp)
}

func TestRun_FailureCleanupIndependentOfCleanup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cleanup       bool
		cleanupOnFail bool
		wantRemoved   bool
	}{
		{"kept by default", true, false, false},
		{"kept without any cleanup", false, false, false},
		{"removed with cleanup", true, true, true},
		{"removed even when cleanup is off", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			roleDir := testutil.NewRoleDir(t, nil)
			engine := &fakeEngine{replies: []execReply{
				{match: "--syntax-check"},
				{match: "ANSIBLE_FORCE_COLOR=1", exitCode: 2},
			}}
			opts := testOptions(roleDir)
			opts.Cleanup = tt.cleanup
			opts.CleanupOnFail = tt.cleanupOnFail
			runner, _ := newTestRunner(t, engine, opts)

			report, err := runner.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, 2, ExitCodeOf(err))
			assert.Equal(t, tt.wantRemoved, len(engine.removed) == 1, "removed = %v", engine.removed)
			assert.Equal(t, tt.wantRemoved, report.CleanedUp)
		})
	}
}

func TestRun_IdempotenceDisabledAndNoCleanup(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{}
	opts := testOptions(roleDir)
	opts.TestIdempotence = false
	opts.Cleanup = false
	runner, _ := newTestRunner(t, engine, opts)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, engine.execs, 2)
	assert.Empty(t, engine.removed)
	assert.Nil(t, report.Idempotence)

	idem, _ := report.Step(StepIdempotence)
	assert.Equal(t, StatusSkipped, idem.Status)
	cl, _ := report.Step(StepCleanup)
	assert.Equal(t, StatusSkipped, cl.Status)
}

func TestRun_ReuseContainer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       container.State
		wantCalls   []string
		wantResumed bool
		wantReused  bool
	}{
		{
			name:       "running container is reused",
			state:      container.State{Exists: true, Running: true},
			wantCalls:  []string{"inspect", "exec", "exec", "rm"},
			wantReused: true,
		},
		{
			name:        "stopped container is resumed",
			state:       container.State{Exists: true},
			wantCalls:   []string{"inspect", "resume", "exec", "exec", "rm"},
			wantResumed: true,
			wantReused:  true,
		},
		{
			name:      "missing container is created",
			wantCalls: []string{"inspect", "pull", "start", "exec", "exec", "rm"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			roleDir := testutil.NewRoleDir(t, nil)
			engine := &fakeEngine{state: tt.state}
			opts := testOptions(roleDir)
			opts.ReuseContainer = true
			opts.TestIdempotence = false
			runner, _ := newTestRunner(t, engine, opts)

			report, err := runner.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, engine.callNames())
			assert.Equal(t, tt.wantResumed, engine.resumed)
			assert.Equal(t, tt.wantReused, report.Reused)
		})
	}
}

func TestRun_UnknownDistro(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{}
	opts := testOptions(roleDir)
	opts.Distro = "gentoo"
	runner, _ := newTestRunner(t, engine, opts)

	_, err := runner.Run(context.Background())
	require.ErrorIs(t, err, distro.ErrUnknownDistro)
	assert.Equal(t, issue.UnknownDistroId, issue.IssueOf(err).Id())
	assert.Empty(t, engine.calls)
}

func TestRun_MissingPlaybook(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	opts := testOptions(roleDir)
	opts.Playbook = "docker.yml"
	engine := &fakeEngine{}
	runner, _ := newTestRunner(t, engine, opts)

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, issue.PlaybookNotFoundId, issue.IssueOf(err).Id())
	assert.Empty(t, engine.calls)
}

func TestRun_PullRetriesAndProgress(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{pullErrs: []error{errors.New("registry hiccup"), nil}}
	opts := testOptions(roleDir)
	opts.TestIdempotence = false

	var events []ProgressKind
	runner, _ := newTestRunner(t, engine, opts, WithProgress(func(ev ProgressEvent) {
		events = append(events, ev.Kind)
	}), WithPullOutput(io.Discard))

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, engine.pullCount)
	assert.Equal(t, []ProgressKind{PullStarted, PullFinished}, events)
}

func TestRun_PullFailureKeepsNothing(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	pullErr := errors.New("manifest unknown")
	engine := &fakeEngine{pullErrs: []error{pullErr, pullErr, pullErr}}
	runner, _ := newTestRunner(t, engine, testOptions(roleDir))

	_, err := runner.Run(context.Background())
	require.ErrorIs(t, err, pullErr)
	assert.Equal(t, 3, engine.pullCount)
	assert.NotContains(t, engine.callNames(), "start")
	assert.NotContains(t, engine.callNames(), "rm")
}

func TestRun_ExtraArgsAndTTY(t *testing.T) {
	t.Parallel()

	roleDir := testutil.NewRoleDir(t, nil)
	engine := &fakeEngine{}
	cfg := config.DefaultConfig()
	cfg.RoleDir = roleDir
	cfg.ContainerID = "abc"
	cfg.TestIdempotence = false
	cfg.AnsibleArgs = `-e "greeting='hi there'" -vv`

	opts, err := FromConfig(cfg)
	require.NoError(t, err)
	opts.TTY = true
	runner, _ := newTestRunner(t, engine, opts)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	playbookRun := engine.execs[1]
	assert.Equal(t, []string{"-e", "greeting='hi there'", "-vv"}, playbookRun[len(playbookRun)-3:])
	assert.NotContains(t, engine.execs[0], "-vv", "syntax check ignores extra args")
	assert.True(t, engine.lastExecTT)
}

func TestFromConfig_BadArgs(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.AnsibleArgs = `-e "unterminated`
	_, err := FromConfig(cfg)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "ansible_args"))
}

func TestExitCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, ExitCodeOf(nil))
	assert.Equal(t, 1, ExitCodeOf(errors.New("boom")))
	assert.Equal(t, 1, ExitCodeOf(&StepError{Step: StepCleanup, Err: errors.New("x")}))
	assert.Equal(t, 137, ExitCodeOf(&StepError{Step: StepPlaybook, ExitCode: 137, Err: errors.New("killed")}))
}

func TestQuoteCommand(t *testing.T) {
	t.Parallel()

	got := quoteCommand([]string{"ansible-playbook", "test.yml", "-e", "a=b c"})
	assert.Equal(t, "ansible-playbook test.yml -e 'a=b c'", got)
}
