// mailsieve/main.go

// Command mailsieve cleans a delimited list of e-mail addresses and appends
// the rows that pass every check to a spreadsheet.
package main

import (
	"context"
	"os"

	"github.com/dalemusser/mailsieve/app"
)

func main() {
	os.Exit(app.Run(context.Background(), os.Args[1:]))
}
