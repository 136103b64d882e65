package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/invgo/index"
)

func (t *tool) statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "print the segments of the newest commit",
		ArgsUsage: "<index-dir>",
		Flags:     []cli.Flag{dirImplFlag},
		Action:    t.stats,
	}
}

func (t *tool) stats(c *cli.Context) error {
	dir, _, err := t.openIndexDir(c)
	if err != nil {
		return err
	}
	defer dir.Close()

	commits, err := index.ListCommits(dir)
	if err != nil {
		return err
	}
	sis, err := index.ReadLatestSegmentInfos(dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(t.out, "commit %s (generation %d), %d commits on disk\n",
		sis.SegmentsFileName(), sis.LastGeneration(), len(commits))
	for k, v := range sis.UserData {
		fmt.Fprintf(t.out, "  %s=%s\n", k, v)
	}

	tw := tabwriter.NewWriter(t.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "segment\tcodec\tversion\tmaxDoc\tnumDocs\tdeleted\tcompound\tsize\t")
	var totalSize uint64
	for _, sci := range sis.Segments {
		size, err := sci.SizeInBytes()
		if err != nil {
			return fmt.Errorf("size of %s: %w", sci.Name(), err)
		}
		totalSize += uint64(size)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%t\t%s\t\n",
			sci.Name(), sci.Info.Codec, sci.Info.Version,
			sci.MaxDoc(), sci.NumDocs(), sci.DelCount,
			sci.Info.UseCompoundFile, humanize.IBytes(uint64(size)))
	}
	fmt.Fprintf(tw, "total\t\t\t%d\t%d\t%d\t\t%s\t\n",
		sis.TotalMaxDoc(), sis.NumDocs(), sis.TotalMaxDoc()-sis.NumDocs(), humanize.IBytes(totalSize))
	return tw.Flush()
}
