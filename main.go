package main

import (
	"fmt"
	"os"

	"github.com/masterbooter/masterbooter/internal/cmd"
	cnst "github.com/masterbooter/masterbooter/internal/constants"
	"github.com/masterbooter/masterbooter/internal/utils"
	"github.com/masterbooter/masterbooter/internal/version"
	"github.com/urfave/cli/v2"
)

// Build WinPE media and unattended installs.
func main() {
	app := cli.NewApp()
	app.Name = "masterbooter"
	app.Usage = "build WinPE media and unattended Windows installs"
	app.Version = version.GetVersion()
	app.Authors = []*cli.Author{{Name: "MasterBooter authors"}}
	app.Copyright = "masterbooter authors"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			EnvVars: []string{cnst.EnvDebug},
		},
	}
	app.Before = func(c *cli.Context) error {
		utils.SetLogger(c.Bool("debug"))
		return nil
	}
	app.Commands = append(cmd.Commands, &cli.Command{
		Name:  "version",
		Usage: "version",
		Action: func(c *cli.Context) error {
			v := version.Get()
			utils.Log.Info().Str("commit", v.GitCommit).Str("compiled with", v.GoVersion).Str("version", v.Version).Msg("MasterBooter")
			return nil
		},
	})

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
