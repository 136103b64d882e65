package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/invgo/upgrade"
)

func (t *tool) upgradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "upgrade",
		Usage:     "rewrite segments written by an older codec with the current one",
		ArgsUsage: "<index-dir>",
		Description: "The index must not be open in a writer. Only the upgraded commit is " +
			"kept. An index with more than one commit is refused unless " +
			"--delete-prior-commits is given.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "delete-prior-commits",
				Usage: "upgrade an index holding several commits and remove them",
			},
			dirImplFlag,
		},
		Action: t.upgrade,
	}
}

func (t *tool) upgrade(c *cli.Context) error {
	dir, path, err := t.openIndexDir(c)
	if err != nil {
		return err
	}
	defer dir.Close()

	u := upgrade.New(dir,
		upgrade.WithDeletePriorCommits(c.Bool("delete-prior-commits")),
		upgrade.WithLogger(t.logger.WithDirectory(path).Logger),
		upgrade.WithWriterOptions(t.cfg.ToOptions()...),
	)
	res, err := u.Upgrade(c.Context)
	if errors.Is(err, upgrade.ErrPriorCommits) {
		return cli.Exit(fmt.Sprintf("%v\nrun with --delete-prior-commits to remove them", err), 1)
	}
	if err != nil {
		return err
	}
	if res.Outdated == 0 {
		fmt.Fprintf(t.out, "All %d segments are current.\n", res.SegmentsBefore)
		return nil
	}
	fmt.Fprintf(t.out, "Upgraded %d of %d segments into %d in %s, new commit %s\n",
		res.Outdated, res.SegmentsBefore, res.SegmentsAfter, res.Took.Round(time.Millisecond), res.Commit)
	return nil
}
