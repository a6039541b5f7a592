package main

import (
	"fmt"
	"os"

	"github.com/alim08/fin_desk/pkg/database"
	"github.com/alim08/fin_desk/pkg/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()

	root := newRootCmd(func() (*database.DB, error) {
		return database.New(database.NewConfig())
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
