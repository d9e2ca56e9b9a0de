package cmd

import (
	"fmt"
	"io"
)

const banner = `
   ___   ___ ___                 _ 
  / _ \ / __| _ \__ _ _ _  ___  | |
 | (_) | (__|  _/ _` + "`" + ` | ' \/ -_) | |
  \___/ \___|_| \__,_|_||_\___| |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Admin Control Panel - Version %s\x1b[0m\n\n", Version)
}
