// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ContainerEngineNotFoundId Id = iota + 1
	UnknownDistroId
	RoleDirNotFoundId
	PlaybookNotFoundId
	ImagePullFailedId
	ContainerStartFailedId
	SyntaxCheckFailedId
	PlaybookFailedId
	IdempotenceFailedId
	ConfigLoadFailedId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // project docs about this issue type
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

Role tests run inside a privileged container, but neither Docker nor Podman answered.

## Things you can try:
- Install Docker: https://docs.docker.com/get-docker/
- Or install Podman:
  - Linux: ` + "`sudo apt install podman`" + ` or ` + "`sudo dnf install podman`" + `
  - macOS: ` + "`brew install podman`" + `
- Make sure the daemon is running:
~~~
$ docker version
~~~

- Pick the engine explicitly:
~~~
$ ROLETEST_CONTAINER_ENGINE=podman roletest
~~~`,
		extLinks: []HttpLink{"https://docs.docker.com/engine/install/"},
	}

	unknownDistroIssue = &Issue{
		id: UnknownDistroId,
		mdMsg: `
# Unknown distro!

The distro name does not match any entry in the distro table, so there is no
init system or mount layout to start the container with.

## Things you can try:
- List the supported distros:
~~~
$ roletest distros
~~~

- Set a supported name:
~~~
$ distro=ubuntu2004 roletest
~~~

- Add your own image to the config file:
~~~cue
distros: {
  rockylinux9: {
    init: "/usr/lib/systemd/systemd"
    cgroup_mount: true
  }
}
~~~`,
	}

	roleDirNotFoundIssue = &Issue{
		id: RoleDirNotFoundId,
		mdMsg: `
# Role directory not found!

The role directory is bind-mounted into the container and must exist on the host.

## Things you can try:
- Run roletest from the root of your role (the directory holding ` + "`tasks/`" + ` and ` + "`tests/`" + `)
- Or point at it explicitly:
~~~
$ roletest --role-dir ~/src/ansible-role-nginx
~~~`,
	}

	playbookNotFoundIssue = &Issue{
		id: PlaybookNotFoundId,
		mdMsg: `
# Test playbook not found!

The test playbook is looked up under the role's ` + "`tests/`" + ` directory.

## Things you can try:
- Create ` + "`tests/test.yml`" + `:
~~~yaml
---
- hosts: all
  roles:
    - role_under_test
~~~

- Or select another playbook in tests/:
~~~
$ playbook=docker.yml roletest
~~~`,
	}

	imagePullFailedIssue = &Issue{
		id: ImagePullFailedId,
		mdMsg: `
# Failed to pull the test image!

Test images are named ` + "`<namespace>/docker-<distro>-ansible:<tag>`" + `.

## Things you can try:
- Check your network connection and registry login
- Confirm the image exists for this distro on the registry
- Raise the retry count for flaky registries:
~~~
$ ROLETEST_PULL_RETRIES=5 roletest
~~~`,
		extLinks: []HttpLink{"https://hub.docker.com/u/geerlingguy"},
	}

	containerStartFailedIssue = &Issue{
		id: ContainerStartFailedId,
		mdMsg: `
# Failed to start the test container!

## Common causes:
- A container with the same name already exists
- The engine refuses privileged containers (rootless mode)
- The cgroup mount is not available on this host

## Things you can try:
- Remove the leftover container:
~~~
$ roletest down <container-id>
~~~

- Or reuse it instead of creating a new one:
~~~
$ reuse_container=true container_id=<container-id> roletest
~~~`,
	}

	syntaxCheckFailedIssue = &Issue{
		id: SyntaxCheckFailedId,
		mdMsg: `
# Playbook syntax check failed!

` + "`ansible-playbook --syntax-check`" + ` rejected the test playbook. Nothing was applied.

## Things you can try:
- Read the ansible error above for the file and line
- Make sure the role is referenced as ` + "`role_under_test`" + ` in the playbook
- Check that required roles are listed in ` + "`tests/requirements.yml`" + ``,
	}

	playbookFailedIssue = &Issue{
		id: PlaybookFailedId,
		mdMsg: `
# Playbook run failed!

The role failed while converging the test container.

## Things you can try:
- Keep the container and poke around:
~~~
$ cleanup=false roletest
$ roletest shell <container-id>
~~~

- Pass extra verbosity to ansible:
~~~
$ ROLETEST_ANSIBLE_ARGS="-vvv" roletest
~~~`,
	}

	idempotenceFailedIssue = &Issue{
		id: IdempotenceFailedId,
		mdMsg: `
# Idempotence test failed!

The second playbook run reported changed or failed tasks. A role should converge
on the first run and report ` + "`changed=0`" + ` afterwards.

## Things you can try:
- Look for tasks marked ` + "`changed`" + ` in the second run output
- Use ` + "`changed_when`" + ` for commands that do not modify state
- Skip the check while iterating:
~~~
$ test_idempotence=false roletest
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the roletest configuration file.

## Configuration file locations:
- ` + "`--config <path>`" + `
- $XDG_CONFIG_HOME/roletest/config.cue
- ./roletest.cue

## Things you can try:
- Create a default configuration:
~~~
$ roletest config init
~~~

- Print the effective configuration:
~~~
$ roletest config show
~~~

## Example configuration:
~~~cue
distro: "ubuntu2004"
container_engine: "docker"
test_idempotence: true

ui: {
  color_scheme: "auto"
  verbose: false
}
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

## Common causes:
- Your user cannot talk to the container engine socket
- The role directory is not readable by the engine

## Things you can try:
- Add yourself to the docker group:
~~~
$ sudo usermod -aG docker $USER
~~~

- On SELinux hosts with Podman, the role mount is relabeled with ` + "`:z`" + ` automatically`,
	}

	issues = map[Id]*Issue{
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		unknownDistroIssue.Id():           unknownDistroIssue,
		roleDirNotFoundIssue.Id():         roleDirNotFoundIssue,
		playbookNotFoundIssue.Id():        playbookNotFoundIssue,
		imagePullFailedIssue.Id():         imagePullFailedIssue,
		containerStartFailedIssue.Id():    containerStartFailedIssue,
		syntaxCheckFailedIssue.Id():       syntaxCheckFailedIssue,
		playbookFailedIssue.Id():          playbookFailedIssue,
		idempotenceFailedIssue.Id():       idempotenceFailedIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
