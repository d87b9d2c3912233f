// sitepanelctl — консоль администратора sitepanel.
package main

import "github.com/bigkaa/sitepanel/cmd/sitepanelctl/cmd"

func main() {
	cmd.Execute()
}
