// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/melonloader/unitydeps/cmd/unitydeps"

func main() {
	cmd.Execute()
}
