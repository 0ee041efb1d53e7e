// Command relq translates query documents to SQL and runs them.
//
// Usage:
//
//	relq compile query.yaml --mapping shop.yaml --dialect sqlserver
//	relq run query.yaml --database-url postgres://localhost/shop
//	relq repl
package main

import (
	"github.com/bawdo/relq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		cli.ExitWithError(err)
	}
}
