package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/invgo/check"
)

func (t *tool) checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "verify the newest commit of an index",
		ArgsUsage: "<index-dir>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "exorcise",
				Usage: "write a new commit without the broken segments; their documents are lost",
			},
			&cli.StringSliceFlag{
				Name:  "segment",
				Usage: "only check the named segment (repeatable); cannot be combined with --exorcise",
			},
			&cli.BoolFlag{
				Name:  "cross-check-term-vectors",
				Usage: "compare term vectors against the postings",
			},
			&cli.BoolFlag{
				Name:  "fail-fast",
				Usage: "stop at the first broken segment",
			},
			dirImplFlag,
		},
		Action: t.check,
	}
}

func (t *tool) check(c *cli.Context) error {
	segments := c.StringSlice("segment")
	exorcise := c.Bool("exorcise")
	if exorcise && len(segments) > 0 {
		return cli.Exit("--exorcise cannot be used with --segment", 2)
	}
	dir, path, err := t.openIndexDir(c)
	if err != nil {
		return err
	}
	defer dir.Close()

	checker := check.New(dir,
		check.WithLogger(t.logger.WithDirectory(path).Logger),
		check.WithCrossCheckTermVectors(c.Bool("cross-check-term-vectors")),
		check.WithFailFast(c.Bool("fail-fast")),
	)
	st, err := checker.Check(c.Context, segments...)
	if err != nil {
		return err
	}
	printStatus(t.out, st)

	switch {
	case st.Clean:
		fmt.Fprintln(t.out, "No problems were detected with this index.")
		return nil
	case st.MissingSegments || st.CantOpenSegments:
		return cli.Exit("", 1)
	case !exorcise:
		fmt.Fprintf(t.out, "WARNING: %d broken segments (containing %d documents) detected\n",
			st.NumBadSegments, st.TotLoseDocCount)
		fmt.Fprintln(t.out, "Run with --exorcise to write a commit without them.")
		return cli.Exit("", 1)
	}

	if err := checker.Exorcise(c.Context, st); err != nil {
		return err
	}
	fmt.Fprintf(t.out, "Wrote a new commit without %d broken segments; %d documents were lost.\n",
		st.NumBadSegments, st.TotLoseDocCount)
	return nil
}

func printStatus(w io.Writer, st *check.Status) {
	if st.MissingSegments {
		fmt.Fprintln(w, "ERROR: no commit found in the directory")
		return
	}
	if st.CantOpenSegments {
		fmt.Fprintf(w, "ERROR: could not read the newest commit: %s\n", st.Error)
		return
	}
	fmt.Fprintf(w, "Commit %s (generation %d), %d segments\n",
		st.SegmentsFileName, st.Generation, st.NumSegments)
	if st.Partial {
		fmt.Fprintf(w, "Checking only segments %v\n", st.SegmentsChecked)
	}
	for i, s := range st.Segments {
		fmt.Fprintf(w, "  %d of %d: name=%s maxDoc=%d\n", i+1, st.NumSegments, s.Name, s.MaxDoc)
		fmt.Fprintf(w, "    version=%s codec=%s compound=%t numFiles=%d size=%s\n",
			s.Version, s.Codec, s.Compound, s.NumFiles, humanize.IBytes(uint64(max(s.SizeBytes, 0))))
		if s.HasDeletions {
			fmt.Fprintf(w, "    has deletions [delGen=%d, deleted=%d]\n", s.DelGen, s.NumDeleted)
		}
		if !s.Clean() {
			fmt.Fprintf(w, "    FAILED: %s\n", s.Error)
			continue
		}
		fmt.Fprintf(w, "    fields=%d terms=%d totFreq=%d totPos=%d stored=%d vectors=%d\n",
			s.FieldInfos.TotFields, s.Terms.TermCount, s.Terms.TotFreq, s.Terms.TotPos,
			s.StoredFields.TotFields, s.TermVectors.TotVectors)
		fmt.Fprintln(w, "    OK")
	}
	if st.Clean {
		fmt.Fprintf(w, "Fingerprint %s\n", st.Fingerprint)
	}
	fmt.Fprintf(w, "Took %s\n", st.Took.Round(time.Millisecond))
}
