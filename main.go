// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/roletest/roletest/cmd/roletest"

func main() {
	cmd.Execute()
}
